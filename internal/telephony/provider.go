package telephony

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCode means the code was wrong, expired, or never requested.
	ErrInvalidCode = errors.New("telephony: invalid verification code")
	ErrProvider    = errors.New("telephony: provider error")
)

// Verifier delivers and checks one-time codes sent to a mobile number.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Numbers are E.164; canonicalization happens before this boundary.
type Verifier interface {
	Name() string
	Send(ctx context.Context, mobile string) error
	Check(ctx context.Context, mobile, code string) error
}
