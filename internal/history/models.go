package history

import "time"

// Record is one participant's view of one call attempt.
//
// Invariants:
// - Records are append-only; the service never updates or deletes them.
// - A call produces at most one record per participant.
// - DurationSeconds is zero unless the call was answered.

type Record struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	OwnerIdentity        string `json:"owner" db:"owner_identity"`
	CounterpartyIdentity string `json:"counterparty" db:"counterparty_identity"`

	Direction Direction `json:"direction" db:"direction"`
	Outcome   Outcome   `json:"outcome" db:"outcome"`

	// StartedAt is when the call attempt was made, not when it was answered.
	StartedAt       time.Time `json:"started_at" db:"started_at"`
	DurationSeconds int       `json:"duration" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeMissed   Outcome = "missed"
	OutcomeRejected Outcome = "rejected"
)

func (d Direction) valid() bool {
	return d == DirectionOutgoing || d == DirectionIncoming
}

func (o Outcome) valid() bool {
	switch o {
	case OutcomeAnswered, OutcomeMissed, OutcomeRejected:
		return true
	}
	return false
}

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Summary aggregates one identity's records over a time range.
type Summary struct {
	Owner string    `json:"owner"`
	Range TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	OutgoingCalls int `json:"outgoing_calls"`
	IncomingCalls int `json:"incoming_calls"`

	AnsweredCalls int `json:"answered_calls"`
	MissedCalls   int `json:"missed_calls"`
	RejectedCalls int `json:"rejected_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
