package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callrelay/internal/protocol"
)

// Conn is a live signaling connection as seen by the directory and the coordinator.
// Send must not block: it enqueues and reports failure if the peer cannot take more.
type Conn interface {
	ID() string
	Send(protocol.Message) error
	Close() error
}

// Entry is one registered identity.
type Entry struct {
	Identity     string
	Conn         Conn
	RegisteredAt time.Time
}

// Mirror publishes local presence to shared storage so other processes can answer
// presence lookups. Implementations must tolerate stale calls for an old connection.
// Mirrored presence is informational: calls are only placed to identities registered
// in this process.
type Mirror interface {
	Online(ctx context.Context, identity, connID string) error
	Refresh(ctx context.Context, identity, connID string) error
	Offline(ctx context.Context, identity, connID string) error
	IsOnline(ctx context.Context, identity string) (bool, error)
}

// Directory maps identity -> connection and connection -> identity.
// At most one connection is resolvable per identity.
type Directory struct {
	mu         sync.RWMutex
	byIdentity map[string]Entry
	byConn     map[string]string

	mirror        Mirror
	mirrorTimeout time.Duration

	clock func() time.Time
	log   *slog.Logger
}

type Option func(*Directory)

func WithMirror(m Mirror) Option {
	return func(d *Directory) { d.mirror = m }
}

func WithClock(clock func() time.Time) Option {
	return func(d *Directory) { d.clock = clock }
}

func NewDirectory(log *slog.Logger, opts ...Option) *Directory {
	if log == nil {
		log = slog.Default()
	}
	d := &Directory{
		byIdentity:    make(map[string]Entry),
		byConn:        make(map[string]string),
		mirrorTimeout: 2 * time.Second,
		clock:         time.Now,
		log:           log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register inserts or replaces the mapping for identity and returns the connection it
// replaced, if any. The replaced connection is NOT closed here; the caller owns that.
// conn receives an online snapshot before any later presence delta.
func (d *Directory) Register(identity string, conn Conn) Conn {
	d.mu.Lock()
	var prev Conn
	if old, ok := d.byIdentity[identity]; ok {
		if old.Conn.ID() == conn.ID() {
			d.mu.Unlock()
			return nil
		}
		prev = old.Conn
		delete(d.byConn, old.Conn.ID())
	}
	// A connection carries one identity for its lifetime.
	if otherIdentity, ok := d.byConn[conn.ID()]; ok && otherIdentity != identity {
		delete(d.byIdentity, otherIdentity)
		d.broadcastLocked(protocol.PresenceChanged(otherIdentity, protocol.StatusOffline), "")
	}
	d.byIdentity[identity] = Entry{Identity: identity, Conn: conn, RegisteredAt: d.clock()}
	d.byConn[conn.ID()] = identity
	d.broadcastLocked(protocol.PresenceChanged(identity, protocol.StatusOnline), conn.ID())
	_ = d.sendSnapshotLocked(conn)
	d.mu.Unlock()

	d.mirrorOnline(identity, conn.ID())
	return prev
}

// Remove drops the entry owned by conn. It is a no-op if conn was already superseded
// or never registered, so a late disconnect can never remove a newer registration.
// Remove only touches local state; the mirrored lease is cleared by Release.
func (d *Directory) Remove(conn Conn) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity, ok := d.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(d.byConn, conn.ID())
	if cur, ok := d.byIdentity[identity]; ok && cur.Conn.ID() == conn.ID() {
		delete(d.byIdentity, identity)
	}
	d.broadcastLocked(protocol.PresenceChanged(identity, protocol.StatusOffline), "")
	return identity, true
}

// Release clears identity's mirrored lease if connID still holds it. It waits on the
// mirror, so callers must not hold a lock other operations need.
func (d *Directory) Release(identity, connID string) {
	d.mirrorOffline(identity, connID)
}

// Refresh extends the mirrored lease of conn's identity while conn still owns it.
func (d *Directory) Refresh(conn Conn) {
	if d.mirror == nil {
		return
	}
	d.mu.RLock()
	identity, ok := d.byConn[conn.ID()]
	d.mu.RUnlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.mirrorTimeout)
	defer cancel()
	if err := d.mirror.Refresh(ctx, identity, conn.ID()); err != nil {
		d.log.Warn("presence mirror refresh failed", "identity", identity, "err", err)
	}
}

func (d *Directory) Lookup(identity string) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byIdentity[identity]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// IdentityOf resolves a connection through the inverse index.
func (d *Directory) IdentityOf(conn Conn) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byConn[conn.ID()]
	return identity, ok
}

// Owns reports whether conn is the current registration for identity.
func (d *Directory) Owns(identity string, conn Conn) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byIdentity[identity]
	return ok && e.Conn.ID() == conn.ID()
}

// Snapshot lists every online identity, sorted for stable output.
func (d *Directory) Snapshot() []protocol.PresenceItem {
	d.mu.RLock()
	out := make([]protocol.PresenceItem, 0, len(d.byIdentity))
	for identity := range d.byIdentity {
		out = append(out, protocol.PresenceItem{Identity: identity, Status: protocol.StatusOnline})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// SendSnapshot enqueues the current online snapshot to conn. Holding the read lock
// orders it against deltas, which are sent under the write lock.
func (d *Directory) SendSnapshot(conn Conn) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sendSnapshotLocked(conn)
}

func (d *Directory) sendSnapshotLocked(conn Conn) error {
	self := d.byConn[conn.ID()]
	items := make([]protocol.PresenceItem, 0, len(d.byIdentity))
	for identity := range d.byIdentity {
		if identity == self {
			continue
		}
		items = append(items, protocol.PresenceItem{Identity: identity, Status: protocol.StatusOnline})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Identity < items[j].Identity })
	return conn.Send(protocol.OnlineSnapshot(items))
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byIdentity)
}

// IsOnline answers from local state first and falls back to the mirror, which also
// covers identities connected to other processes. A mirror hit does not make the
// identity callable from here.
func (d *Directory) IsOnline(ctx context.Context, identity string) (bool, error) {
	if _, ok := d.Lookup(identity); ok {
		return true, nil
	}
	if d.mirror == nil {
		return false, nil
	}
	return d.mirror.IsOnline(ctx, identity)
}

// broadcastLocked fans a presence delta out to every registered connection except skipID.
// Send only enqueues, so holding the lock keeps deltas in mutation order.
func (d *Directory) broadcastLocked(msg protocol.Message, skipID string) {
	for _, e := range d.byIdentity {
		if e.Conn.ID() == skipID {
			continue
		}
		if err := e.Conn.Send(msg); err != nil {
			d.log.Debug("presence broadcast dropped", "to", e.Identity, "conn_id", e.Conn.ID(), "err", err)
		}
	}
}

func (d *Directory) mirrorOnline(identity, connID string) {
	if d.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.mirrorTimeout)
	defer cancel()
	if err := d.mirror.Online(ctx, identity, connID); err != nil {
		d.log.Warn("presence mirror online failed", "identity", identity, "err", err)
	}
}

func (d *Directory) mirrorOffline(identity, connID string) {
	if d.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.mirrorTimeout)
	defer cancel()
	if err := d.mirror.Offline(ctx, identity, connID); err != nil {
		d.log.Warn("presence mirror offline failed", "identity", identity, "err", err)
	}
}
