package accounts

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("accounts: not found")
	ErrMobileTaken = errors.New("accounts: mobile already registered")
)

// Repository stores accounts keyed by canonical mobile.
type Repository interface {
	Create(ctx context.Context, u User) error
	GetByMobile(ctx context.Context, mobile string) (User, error)
	MarkVerified(ctx context.Context, mobile string) error
	Exists(ctx context.Context, mobile string) (bool, error)
}
