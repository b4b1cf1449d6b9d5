package calls

import "time"

// Session is one call attempt between two identities.
//
// Phases move strictly forward:
//
//	INITIATED -> RINGING -> {ACCEPTED | REJECTED | CALLER_CANCELLED | CALLEE_UNREACHABLE}
//	ACCEPTED -> ENDED
//
// An identity is in at most one non-terminal session at a time, as either party.

type Session struct {
	ID     string `json:"call_id"`
	Caller string `json:"caller"`
	Callee string `json:"callee"`

	Phase Phase `json:"phase"`

	CreatedAt  time.Time `json:"created_at"`
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
}

type Phase string

const (
	PhaseInitiated         Phase = "INITIATED"
	PhaseRinging           Phase = "RINGING"
	PhaseAccepted          Phase = "ACCEPTED"
	PhaseRejected          Phase = "REJECTED"
	PhaseCallerCancelled   Phase = "CALLER_CANCELLED"
	PhaseCalleeUnreachable Phase = "CALLEE_UNREACHABLE"
	PhaseEnded             Phase = "ENDED"
)

func (p Phase) Terminal() bool {
	switch p {
	case PhaseRejected, PhaseCallerCancelled, PhaseCalleeUnreachable, PhaseEnded:
		return true
	}
	return false
}

// Counterpart returns the other party, or "" if identity is not in the session.
func (s Session) Counterpart(identity string) string {
	switch identity {
	case s.Caller:
		return s.Callee
	case s.Callee:
		return s.Caller
	}
	return ""
}

// DurationSeconds is whole seconds from ACCEPTED to end; zero if never accepted.
func (s Session) DurationSeconds() int {
	if s.AcceptedAt.IsZero() || s.EndedAt.IsZero() || s.EndedAt.Before(s.AcceptedAt) {
		return 0
	}
	return int(s.EndedAt.Sub(s.AcceptedAt) / time.Second)
}
