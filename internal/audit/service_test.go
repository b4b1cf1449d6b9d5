package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresTypeAndParty(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Subject: "+12015550143"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeSignup}); err == nil {
		t.Fatalf("expected error for missing actor and subject")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminAction(context.Background(), "+12015550199", "admin", "1.2.3.4", "listed sessions"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogAccount(context.Background(), EventTypeLoginFailed, "+12015550143", "5.6.7.8", "invalid credentials"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventTypeAdminAction || evs[0].IPAddress != "1.2.3.4" || evs[0].ActorIdentity != "+12015550199" {
		t.Fatalf("unexpected admin event: %+v", evs[0])
	}
	if evs[1].Subject != "+12015550143" || evs[1].ID == "" || evs[1].CreatedAt.IsZero() {
		t.Fatalf("unexpected account event: %+v", evs[1])
	}
}

func TestNewPostgresRepo_RejectsNilDB(t *testing.T) {
	if _, err := NewPostgresRepo(nil); err == nil {
		t.Fatalf("expected error")
	}
}
