package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory append-only repository for tests and local runs.

type MemoryRepo struct {
	mu      sync.Mutex
	records []Record

	// FailAppend makes Append return this error, for exercising failure paths.
	FailAppend error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, recs []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAppend != nil {
		return r.FailAppend
	}
	r.records = append(r.records, recs...)
	return nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, owner string, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.OwnerIdentity == owner {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListRange(ctx context.Context, owner string, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.OwnerIdentity != owner {
			continue
		}
		if rec.StartedAt.Before(from) || !rec.StartedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Records returns a copy of everything appended so far.
func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
