package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"callrelay/internal/protocol"
	"callrelay/pkg/logger"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   []protocol.Message
	fail   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("queue full")
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

type memMirror struct {
	mu        sync.Mutex
	owners    map[string]string
	refreshed map[string]int
}

func (m *memMirror) Refresh(_ context.Context, identity, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[identity] == connID {
		if m.refreshed == nil {
			m.refreshed = map[string]int{}
		}
		m.refreshed[identity]++
	}
	return nil
}

func (m *memMirror) Online(_ context.Context, identity, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[identity] = connID
	return nil
}

func (m *memMirror) Offline(_ context.Context, identity, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[identity] == connID {
		delete(m.owners, identity)
	}
	return nil
}

func (m *memMirror) IsOnline(_ context.Context, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.owners[identity]
	return ok, nil
}

func TestDirectory_RegisterLookupRemove(t *testing.T) {
	d := NewDirectory(logger.Discard())
	a := newFakeConn("c1")

	if prev := d.Register("+15550001111", a); prev != nil {
		t.Fatalf("expected no previous conn")
	}
	got, ok := d.Lookup("+15550001111")
	if !ok || got.ID() != "c1" {
		t.Fatalf("expected lookup to return c1")
	}
	if id, ok := d.IdentityOf(a); !ok || id != "+15550001111" {
		t.Fatalf("expected inverse index to resolve identity")
	}

	id, ok := d.Remove(a)
	if !ok || id != "+15550001111" {
		t.Fatalf("expected remove to report identity, got %q %v", id, ok)
	}
	if _, ok := d.Lookup("+15550001111"); ok {
		t.Fatalf("expected identity to be offline")
	}
	if _, ok := d.Remove(a); ok {
		t.Fatalf("expected second remove to be a no-op")
	}
}

func TestDirectory_SupersedeKeepsSingleConnection(t *testing.T) {
	d := NewDirectory(logger.Discard())
	oldConn := newFakeConn("old")
	newConn := newFakeConn("new")

	d.Register("+15550001111", oldConn)
	prev := d.Register("+15550001111", newConn)
	if prev == nil || prev.ID() != "old" {
		t.Fatalf("expected old conn to be returned as superseded")
	}
	if oldConn.closed {
		t.Fatalf("directory must not close the superseded conn itself")
	}

	// Late disconnect of the old socket must not remove the new registration.
	if _, ok := d.Remove(oldConn); ok {
		t.Fatalf("expected remove of superseded conn to be a no-op")
	}
	got, ok := d.Lookup("+15550001111")
	if !ok || got.ID() != "new" {
		t.Fatalf("expected new conn to stay registered")
	}
	if d.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", d.Len())
	}
}

func TestDirectory_BroadcastsDeltasAndSurvivesFailingRecipient(t *testing.T) {
	d := NewDirectory(logger.Discard())
	a := newFakeConn("a")
	b := newFakeConn("b")
	broken := newFakeConn("x")
	broken.fail = true

	d.Register("+1000", a)
	d.Register("+3000", broken)
	d.Register("+2000", b)
	d.Remove(b)

	var msgs []protocol.Message
	for _, m := range a.messages() {
		if m.Type == protocol.TypePresenceChanged {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 deltas at a, got %d", len(msgs))
	}
	last := msgs[2]
	if last.Type != protocol.TypePresenceChanged || last.Identity != "+2000" || last.Status != protocol.StatusOffline {
		t.Fatalf("unexpected last delta: %+v", last)
	}
	for _, m := range b.messages() {
		if m.Identity == "+2000" {
			t.Fatalf("registering conn should not be told about itself")
		}
	}
	if _, ok := d.Lookup("+3000"); !ok {
		t.Fatalf("failing recipient must not affect its own registration")
	}
}

func TestDirectory_SnapshotSorted(t *testing.T) {
	d := NewDirectory(logger.Discard())
	d.Register("+3", newFakeConn("3"))
	d.Register("+1", newFakeConn("1"))
	d.Register("+2", newFakeConn("2"))

	snap := d.Snapshot()
	if len(snap) != 3 || snap[0].Identity != "+1" || snap[2].Identity != "+3" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	for _, it := range snap {
		if it.Status != protocol.StatusOnline {
			t.Fatalf("expected online status")
		}
	}
}

func TestDirectory_RegisterSendsSnapshotWithoutSelf(t *testing.T) {
	d := NewDirectory(logger.Discard())
	d.Register("+1", newFakeConn("1"))
	d.Register("+2", newFakeConn("2"))
	c := newFakeConn("3")
	d.Register("+3", c)

	msgs := c.messages()
	if len(msgs) == 0 || msgs[0].Type != protocol.TypeOnlineSnapshot {
		t.Fatalf("expected snapshot as first message, got %+v", msgs)
	}
	users := msgs[0].Snapshot()
	if len(users) != 2 || users[0].Identity != "+1" || users[1].Identity != "+2" {
		t.Fatalf("unexpected snapshot users: %+v", users)
	}

	if err := d.SendSnapshot(c); err != nil {
		t.Fatalf("send snapshot: %v", err)
	}
	if got := c.messages(); got[len(got)-1].Type != protocol.TypeOnlineSnapshot {
		t.Fatalf("expected resent snapshot")
	}
}

func TestDirectory_MirrorFollowsOwnership(t *testing.T) {
	m := &memMirror{owners: map[string]string{}}
	d := NewDirectory(logger.Discard(), WithMirror(m))
	oldConn := newFakeConn("old")
	newConn := newFakeConn("new")

	d.Register("+1", oldConn)
	d.Register("+1", newConn)
	d.Remove(oldConn)
	d.Release("+1", "old")

	online, err := d.IsOnline(context.Background(), "+1")
	if err != nil || !online {
		t.Fatalf("expected +1 online, got %v %v", online, err)
	}
	if m.owners["+1"] != "new" {
		t.Fatalf("expected mirror to hold new conn, got %q", m.owners["+1"])
	}

	m.owners["+9"] = "remote"
	online, _ = d.IsOnline(context.Background(), "+9")
	if !online {
		t.Fatalf("expected mirror fallback for remote identity")
	}
}

func TestDirectory_RemoveLeavesLeaseUntilRelease(t *testing.T) {
	m := &memMirror{owners: map[string]string{}}
	d := NewDirectory(logger.Discard(), WithMirror(m))
	c := newFakeConn("c1")
	d.Register("+1", c)

	if id, ok := d.Remove(c); !ok || id != "+1" {
		t.Fatalf("expected removal of +1, got %q %v", id, ok)
	}
	if _, ok := d.Lookup("+1"); ok {
		t.Fatalf("expected +1 gone locally")
	}
	if m.owners["+1"] != "c1" {
		t.Fatalf("remove must not touch the mirror")
	}
	d.Release("+1", "c1")
	if _, ok := m.owners["+1"]; ok {
		t.Fatalf("expected lease released")
	}
}

func TestDirectory_RefreshOnlyForOwner(t *testing.T) {
	m := &memMirror{owners: map[string]string{}}
	d := NewDirectory(logger.Discard(), WithMirror(m))
	oldConn := newFakeConn("old")
	newConn := newFakeConn("new")

	d.Register("+1", oldConn)
	d.Refresh(oldConn)
	d.Register("+1", newConn)
	d.Refresh(oldConn)
	d.Refresh(newConn)
	d.Refresh(newFakeConn("stranger"))

	if n := m.refreshed["+1"]; n != 2 {
		t.Fatalf("expected 2 refreshes from owning conns, got %d", n)
	}
	if m.owners["+1"] != "new" {
		t.Fatalf("expected lease held by new conn, got %q", m.owners["+1"])
	}
}

func TestDirectory_ConcurrentRegisterRemove(t *testing.T) {
	d := NewDirectory(logger.Discard())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			d.Register("+1", c)
			if i%2 == 0 {
				d.Remove(c)
			}
		}(i)
	}
	wg.Wait()

	if d.Len() > 1 {
		t.Fatalf("expected at most one entry, got %d", d.Len())
	}
	if c, ok := d.Lookup("+1"); ok {
		if id, _ := d.IdentityOf(c); id != "+1" {
			t.Fatalf("inverse index out of sync")
		}
	}
}

func TestNewRedisMirror_Validates(t *testing.T) {
	if _, err := NewRedisMirror(nil, 0); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if Key("+1") != "presence:+1" {
		t.Fatalf("unexpected key %q", Key("+1"))
	}
}
