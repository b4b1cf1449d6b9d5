package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"callrelay/pkg/utils"
)

const keyPrefix = "presence:"

// RedisMirror stores presence:<identity> = <conn id> as a TTL lease.
// A release only deletes the key if it still holds the releasing connection's id.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(rdb *redis.Client, ttl time.Duration) (*RedisMirror, error) {
	if rdb == nil {
		return nil, errors.New("presence: redis client is nil")
	}
	if ttl <= 0 {
		return nil, errors.New("presence: lease ttl must be > 0")
	}
	return &RedisMirror{rdb: rdb, ttl: ttl}, nil
}

func Key(identity string) string { return keyPrefix + identity }

func (m *RedisMirror) Online(ctx context.Context, identity, connID string) error {
	_, err := utils.AcquireLease(ctx, m.rdb, Key(identity), connID, m.ttl)
	return err
}

// Refresh extends the lease while connID still holds it. Signaling connections call it
// on every keepalive ping, so the TTL only has to outlive a few ping intervals.
func (m *RedisMirror) Refresh(ctx context.Context, identity, connID string) error {
	_, err := utils.RenewLease(ctx, m.rdb, Key(identity), connID, m.ttl)
	return err
}

func (m *RedisMirror) Offline(ctx context.Context, identity, connID string) error {
	_, err := utils.ReleaseLease(ctx, m.rdb, Key(identity), connID)
	return err
}

func (m *RedisMirror) IsOnline(ctx context.Context, identity string) (bool, error) {
	n, err := m.rdb.Exists(ctx, Key(identity)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
