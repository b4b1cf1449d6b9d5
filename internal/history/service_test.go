package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_RecordFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }

	err := svc.Record(context.Background(),
		Record{CallID: "c1", OwnerIdentity: "+1", CounterpartyIdentity: "+2", Direction: DirectionOutgoing, Outcome: OutcomeAnswered, DurationSeconds: 12},
		Record{CallID: "c1", OwnerIdentity: "+2", CounterpartyIdentity: "+1", Direction: DirectionIncoming, Outcome: OutcomeAnswered, DurationSeconds: 12},
	)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	recs := repo.Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID == "" || recs[0].CreatedAt != now || recs[0].StartedAt != now {
		t.Fatalf("expected defaults to be filled: %+v", recs[0])
	}
}

func TestService_RecordRejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	bad := []Record{
		{OwnerIdentity: "", CounterpartyIdentity: "+2", Direction: DirectionOutgoing, Outcome: OutcomeMissed},
		{OwnerIdentity: "+1", CounterpartyIdentity: "+2", Direction: "sideways", Outcome: OutcomeMissed},
		{OwnerIdentity: "+1", CounterpartyIdentity: "+2", Direction: DirectionOutgoing, Outcome: "lost"},
		{OwnerIdentity: "+1", CounterpartyIdentity: "+2", Direction: DirectionOutgoing, Outcome: OutcomeAnswered, DurationSeconds: -1},
	}
	for _, r := range bad {
		if err := svc.Record(context.Background(), r); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord for %+v, got %v", r, err)
		}
	}
}

func TestService_ListRecentNewestFirstAndClamped(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		_ = svc.Record(context.Background(), Record{
			CallID: "c", OwnerIdentity: "+1", CounterpartyIdentity: "+2",
			Direction: DirectionOutgoing, Outcome: OutcomeMissed,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	_ = svc.Record(context.Background(), Record{CallID: "x", OwnerIdentity: "+9", CounterpartyIdentity: "+1", Direction: DirectionIncoming, Outcome: OutcomeMissed})

	out, err := svc.ListRecent(context.Background(), "+1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if !out[0].CreatedAt.After(out[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}
	if _, err := svc.ListRecent(context.Background(), "", 5); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty owner")
	}
}

func TestService_SummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()
	_ = svc.Record(context.Background(),
		Record{CallID: "a", OwnerIdentity: "+1", CounterpartyIdentity: "+2", Direction: DirectionOutgoing, Outcome: OutcomeAnswered, DurationSeconds: 30, StartedAt: now},
		Record{CallID: "b", OwnerIdentity: "+1", CounterpartyIdentity: "+3", Direction: DirectionIncoming, Outcome: OutcomeAnswered, DurationSeconds: 10, StartedAt: now},
		Record{CallID: "c", OwnerIdentity: "+1", CounterpartyIdentity: "+3", Direction: DirectionIncoming, Outcome: OutcomeMissed, StartedAt: now},
		Record{CallID: "d", OwnerIdentity: "+1", CounterpartyIdentity: "+2", Direction: DirectionOutgoing, Outcome: OutcomeRejected, StartedAt: now.Add(-48 * time.Hour)},
	)

	sum, err := svc.Summary(context.Background(), "+1", TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalCalls != 3 || sum.AnsweredCalls != 2 || sum.MissedCalls != 1 || sum.RejectedCalls != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.TotalDurationSeconds != 40 || sum.AverageDurationSeconds != 20 {
		t.Fatalf("unexpected durations: %+v", sum)
	}
	if sum.OutgoingCalls != 1 || sum.IncomingCalls != 2 {
		t.Fatalf("unexpected directions: %+v", sum)
	}
}

func TestService_SummaryRequiresRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Now()
	if _, err := svc.Summary(context.Background(), "+1", TimeRange{From: now, To: now}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestNewPostgresRepo_RejectsNilDB(t *testing.T) {
	if _, err := NewPostgresRepo(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
	if len(Schema) == 0 {
		t.Fatalf("expected schema statements")
	}
}
