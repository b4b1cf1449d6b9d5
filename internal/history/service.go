package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidRecord  = errors.New("history: invalid record")
	ErrInvalidRequest = errors.New("history: invalid request")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// Repository is the persistence contract for call history.
//
// It MUST be append-only. Append writes all given records atomically so both sides
// of one call land together or not at all.

type Repository interface {
	Append(ctx context.Context, recs []Record) error
	ListRecent(ctx context.Context, owner string, limit int) ([]Record, error)
	ListRange(ctx context.Context, owner string, from, to time.Time) ([]Record, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Record appends one or more records in a single write.
func (s *Service) Record(ctx context.Context, recs ...Record) error {
	if s.repo == nil {
		return errors.New("history: repository not configured")
	}
	if len(recs) == 0 {
		return nil
	}

	now := s.clock().UTC()
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.OwnerIdentity == "" || r.CounterpartyIdentity == "" {
			return ErrInvalidRecord
		}
		if !r.Direction.valid() || !r.Outcome.valid() {
			return ErrInvalidRecord
		}
		if r.DurationSeconds < 0 {
			return ErrInvalidRecord
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.StartedAt.IsZero() {
			r.StartedAt = r.CreatedAt
		}
		out = append(out, r)
	}
	return s.repo.Append(ctx, out)
}

// ListRecent returns owner's newest records first. limit <= 0 means the default.
func (s *Service) ListRecent(ctx context.Context, owner string, limit int) ([]Record, error) {
	if owner == "" {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListRecent(ctx, owner, limit)
}

func (s *Service) Summary(ctx context.Context, owner string, rng TimeRange) (Summary, error) {
	if owner == "" {
		return Summary{}, ErrInvalidRequest
	}
	if rng.From.IsZero() || rng.To.IsZero() || !rng.To.After(rng.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("history: repository not configured")
	}

	rows, err := s.repo.ListRange(ctx, owner, rng.From, rng.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{Owner: owner, Range: rng}
	for _, r := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		switch r.Direction {
		case DirectionOutgoing:
			out.OutgoingCalls++
		case DirectionIncoming:
			out.IncomingCalls++
		}
		switch r.Outcome {
		case OutcomeAnswered:
			out.AnsweredCalls++
		case OutcomeMissed:
			out.MissedCalls++
		case OutcomeRejected:
			out.RejectedCalls++
		}
	}
	if out.AnsweredCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.AnsweredCalls
	}
	return out, nil
}
