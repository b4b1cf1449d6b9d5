package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block account or call flows on audit failures.

type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorIdentity is the mobile that caused the event; empty for anonymous requests.
	ActorIdentity string `json:"actor_identity,omitempty" db:"actor_identity"`
	ActorRole     string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Subject is the account the event is about.
	Subject string `json:"subject,omitempty" db:"subject"`

	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeSignup      EventType = "account_signup"
	EventTypeVerified    EventType = "account_verified"
	EventTypeLoginFailed EventType = "login_failed"
	EventTypeAdminAction EventType = "admin_action"
)
