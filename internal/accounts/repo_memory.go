package accounts

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory account store for tests and local runs.

type MemoryRepo struct {
	mu    sync.Mutex
	users map[string]User
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{users: map[string]User{}} }

func (r *MemoryRepo) Create(ctx context.Context, u User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.Mobile]; ok {
		return ErrMobileTaken
	}
	r.users[u.Mobile] = u
	return nil
}

func (r *MemoryRepo) GetByMobile(ctx context.Context, mobile string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[mobile]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepo) MarkVerified(ctx context.Context, mobile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[mobile]
	if !ok {
		return ErrNotFound
	}
	u.Verified = true
	r.users[mobile] = u
	return nil
}

func (r *MemoryRepo) Exists(ctx context.Context, mobile string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[mobile]
	return ok, nil
}
