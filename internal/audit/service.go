package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs account and admin activity for internal review.
//
// Audit is internal-only and best-effort: callers log a failed append and continue.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ActorIdentity == "" && e.Subject == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAccount records an account lifecycle event for subject.
func (s *Service) LogAccount(ctx context.Context, typ EventType, subject, ip, message string) error {
	return s.Append(ctx, Event{
		Type:      typ,
		Subject:   subject,
		IPAddress: ip,
		Message:   message,
	})
}

// LogAdminAction records a read or change made through an admin endpoint.
func (s *Service) LogAdminAction(ctx context.Context, actor, role, ip, message string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeAdminAction,
		ActorIdentity: actor,
		ActorRole:     role,
		IPAddress:     ip,
		Message:       message,
	})
}
