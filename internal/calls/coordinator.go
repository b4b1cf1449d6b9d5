package calls

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"callrelay/internal/history"
	"callrelay/internal/presence"
	"callrelay/internal/protocol"
)

var (
	ErrSelfCall          = errors.New("calls: cannot call yourself")
	ErrBusyLocal         = errors.New("calls: caller already in a call")
	ErrTargetBusy        = errors.New("calls: callee already in a call")
	ErrTargetOffline     = errors.New("calls: callee is offline")
	ErrSessionNotRinging = errors.New("calls: no ringing session")
	ErrNoActiveSession   = errors.New("calls: no active session")
	ErrPeerUnreachable   = errors.New("calls: peer unreachable")
)

// Directory is the presence view the coordinator needs. Lookup and Remove are called
// under the coordinator lock and must not wait on I/O; Release is called after it.
type Directory interface {
	Lookup(identity string) (presence.Conn, bool)
	Remove(conn presence.Conn) (string, bool)
	Release(identity, connID string)
}

// Recorder persists history records; all records passed in one call belong to one call.
type Recorder interface {
	Record(ctx context.Context, recs ...history.Record) error
}

// AccountChecker reports whether an identity has ever registered an account.
type AccountChecker interface {
	Exists(ctx context.Context, identity string) (bool, error)
}

type stopper interface {
	Stop() bool
}

// Coordinator owns every live call session.
//
// Lock order: Coordinator.mu, then the Directory's lock. Forwards happen under mu so
// messages between one pair of identities keep their order; they are non-blocking
// enqueues. History writes and connection closes happen after mu is released.
type Coordinator struct {
	mu         sync.Mutex
	byID       map[string]*Session
	byIdentity map[string]*Session
	timers     map[string]stopper

	dir      Directory
	recorder Recorder
	accounts AccountChecker

	ringTimeout   time.Duration
	recordTimeout time.Duration

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
	log       *slog.Logger
}

type Option func(*Coordinator)

// WithRingTimeout ends RINGING sessions after d. Zero disables the timeout.
func WithRingTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.ringTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithAccounts(a AccountChecker) Option {
	return func(c *Coordinator) { c.accounts = a }
}

func NewCoordinator(dir Directory, recorder Recorder, log *slog.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		byID:          make(map[string]*Session),
		byIdentity:    make(map[string]*Session),
		timers:        make(map[string]stopper),
		dir:           dir,
		recorder:      recorder,
		recordTimeout: 5 * time.Second,
		now:           time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// effects are side effects collected under the lock and applied after it.
type effects struct {
	records []history.Record
	close   []presence.Conn
}

/* ===== OPERATIONS ===== */

// Initiate starts a call from caller to callee and forwards the offer to the callee.
func (c *Coordinator) Initiate(ctx context.Context, caller, callee string, offer json.RawMessage) (Session, error) {
	if caller == callee {
		return Session{}, ErrSelfCall
	}

	c.mu.Lock()
	if _, busy := c.byIdentity[caller]; busy {
		c.mu.Unlock()
		return Session{}, ErrBusyLocal
	}
	calleeConn, online := c.dir.Lookup(callee)
	if !online {
		c.mu.Unlock()
		c.recordOfflineMiss(ctx, caller, callee)
		return Session{}, ErrTargetOffline
	}
	if _, busy := c.byIdentity[callee]; busy {
		c.mu.Unlock()
		return Session{}, ErrTargetBusy
	}

	s := &Session{
		ID:        uuid.NewString(),
		Caller:    caller,
		Callee:    callee,
		Phase:     PhaseInitiated,
		CreatedAt: c.now(),
	}
	c.byID[s.ID] = s
	c.byIdentity[caller] = s
	c.byIdentity[callee] = s

	var fx effects
	if err := calleeConn.Send(protocol.IncomingCall(s.ID, caller, callee, offer)); err != nil {
		c.log.Warn("offer forward failed", "call_id", s.ID, "callee", callee, "err", err)
		c.finishLocked(s, PhaseCalleeUnreachable)
		fx.close = append(fx.close, calleeConn)
		fx.records = recordsFor(*s)
		out := *s
		c.mu.Unlock()
		c.apply(ctx, fx)
		return out, ErrPeerUnreachable
	}

	s.Phase = PhaseRinging
	c.armRingTimerLocked(s.ID)
	c.sendLocked(caller, protocol.Ringing(s.ID, callee), &fx)
	out := *s
	c.mu.Unlock()

	c.apply(ctx, fx)
	c.log.Info("call ringing", "call_id", out.ID, "caller", caller, "callee", callee)
	return out, nil
}

// Accept answers the ringing session in which callee is the callee.
func (c *Coordinator) Accept(ctx context.Context, callee string, answer json.RawMessage) (Session, error) {
	c.mu.Lock()
	s, ok := c.byIdentity[callee]
	if !ok || s.Callee != callee || s.Phase != PhaseRinging {
		c.mu.Unlock()
		return Session{}, ErrSessionNotRinging
	}
	s.Phase = PhaseAccepted
	s.AcceptedAt = c.now()
	c.stopTimerLocked(s.ID)

	var fx effects
	c.sendLocked(s.Caller, protocol.Accepted(s.ID, callee, answer), &fx)
	out := *s
	c.mu.Unlock()

	c.apply(ctx, fx)
	c.log.Info("call accepted", "call_id", out.ID)
	return out, nil
}

// Reject declines the ringing session in which callee is the callee.
func (c *Coordinator) Reject(ctx context.Context, callee string) (Session, error) {
	c.mu.Lock()
	s, ok := c.byIdentity[callee]
	if !ok || s.Callee != callee || s.Phase != PhaseRinging {
		c.mu.Unlock()
		return Session{}, ErrSessionNotRinging
	}
	var fx effects
	c.rejectLocked(s, &fx)
	out := *s
	c.mu.Unlock()

	c.apply(ctx, fx)
	c.log.Info("call rejected", "call_id", out.ID)
	return out, nil
}

// ExchangeCandidate forwards a connectivity candidate between the two parties of a live
// session. It reports false when there is no matching session; late candidates after
// teardown are expected and dropped.
func (c *Coordinator) ExchangeCandidate(ctx context.Context, from, to string, candidate json.RawMessage) bool {
	c.mu.Lock()
	s, ok := c.byIdentity[from]
	if !ok || s.Phase.Terminal() || s.Counterpart(from) != to {
		c.mu.Unlock()
		c.log.Debug("candidate dropped", "from", from, "to", to)
		return false
	}
	var fx effects
	delivered := c.sendLocked(to, protocol.CandidateFrom(from, to, candidate), &fx)
	c.mu.Unlock()

	c.apply(ctx, fx)
	return delivered
}

// End hangs up party's live session. A second End for the same call returns
// ErrNoActiveSession and changes nothing.
func (c *Coordinator) End(ctx context.Context, party string) (Session, error) {
	c.mu.Lock()
	s, ok := c.byIdentity[party]
	if !ok {
		c.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}
	var fx effects
	reason := c.endLocked(s, party, false, &fx)
	// The party that hung up gets the same call-end as its peer.
	c.sendLocked(party, protocol.Ended(s.ID, party, s.Counterpart(party), reason), &fx)
	out := *s
	c.mu.Unlock()

	c.apply(ctx, fx)
	c.log.Info("call ended", "call_id", out.ID, "by", party, "phase", out.Phase, "duration", out.DurationSeconds())
	return out, nil
}

// OnDisconnect removes conn from presence and ends its identity's live session as if
// that party hung up. It does nothing if conn was superseded by a newer connection.
func (c *Coordinator) OnDisconnect(ctx context.Context, conn presence.Conn) {
	c.mu.Lock()
	identity, removed := c.dir.Remove(conn)
	if !removed {
		c.mu.Unlock()
		return
	}
	s, ok := c.byIdentity[identity]
	var fx effects
	var out Session
	if ok {
		c.endLocked(s, identity, true, &fx)
		out = *s
	}
	c.mu.Unlock()

	c.dir.Release(identity, conn.ID())
	if !ok {
		return
	}
	c.apply(ctx, fx)
	c.log.Info("call ended by disconnect", "call_id", out.ID, "identity", identity, "phase", out.Phase)
}

// Active returns identity's live session.
func (c *Coordinator) Active(identity string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byIdentity[identity]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions lists live sessions, oldest first.
func (c *Coordinator) Sessions() []Session {
	c.mu.Lock()
	out := make([]Session, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, *s)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown stops pending ring timers. Live sessions are left to their connections.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

/* ===== TRANSITIONS ===== */

// endLocked finishes s on behalf of party, notifies the other side and returns the
// end reason.
func (c *Coordinator) endLocked(s *Session, party string, disconnected bool, fx *effects) string {
	other := s.Counterpart(party)
	switch s.Phase {
	case PhaseAccepted:
		reason := protocol.EndHangup
		if disconnected {
			reason = protocol.EndDisconnect
		}
		c.finishLocked(s, PhaseEnded)
		c.sendLocked(other, protocol.Ended(s.ID, party, other, reason), fx)
		fx.records = append(fx.records, recordsFor(*s)...)
		return reason

	case PhaseRinging, PhaseInitiated:
		switch {
		case party == s.Caller:
			c.finishLocked(s, PhaseCallerCancelled)
			c.sendLocked(other, protocol.Ended(s.ID, party, other, protocol.EndCancelled), fx)
			fx.records = append(fx.records, recordsFor(*s)...)
			return protocol.EndCancelled
		case disconnected:
			c.finishLocked(s, PhaseCalleeUnreachable)
			c.sendLocked(other, protocol.Ended(s.ID, party, other, protocol.EndUnreachable), fx)
			fx.records = append(fx.records, recordsFor(*s)...)
			return protocol.EndUnreachable
		default:
			// Callee hanging up a ringing call declines it.
			c.rejectLocked(s, fx)
			return protocol.EndRejected
		}
	}
	return protocol.EndHangup
}

func (c *Coordinator) rejectLocked(s *Session, fx *effects) {
	c.finishLocked(s, PhaseRejected)
	c.sendLocked(s.Caller, protocol.Rejected(s.ID, s.Callee), fx)
	fx.records = append(fx.records, recordsFor(*s)...)
}

// finishLocked moves s to a terminal phase and drops it from the live indexes.
func (c *Coordinator) finishLocked(s *Session, phase Phase) {
	s.Phase = phase
	s.EndedAt = c.now()
	delete(c.byID, s.ID)
	if cur := c.byIdentity[s.Caller]; cur == s {
		delete(c.byIdentity, s.Caller)
	}
	if cur := c.byIdentity[s.Callee]; cur == s {
		delete(c.byIdentity, s.Callee)
	}
	c.stopTimerLocked(s.ID)
}

// sendLocked forwards msg to identity's current connection. A failed enqueue marks the
// connection for closing; its disconnect path then cleans up presence and sessions.
func (c *Coordinator) sendLocked(identity string, msg protocol.Message, fx *effects) bool {
	conn, ok := c.dir.Lookup(identity)
	if !ok {
		return false
	}
	if err := conn.Send(msg); err != nil {
		c.log.Warn("forward failed", "to", identity, "type", msg.Type, "conn_id", conn.ID(), "err", err)
		fx.close = append(fx.close, conn)
		return false
	}
	return true
}

/* ===== RING TIMEOUT ===== */

func (c *Coordinator) armRingTimerLocked(callID string) {
	if c.ringTimeout <= 0 {
		return
	}
	c.timers[callID] = c.afterFunc(c.ringTimeout, func() { c.expire(callID) })
}

func (c *Coordinator) stopTimerLocked(callID string) {
	if t, ok := c.timers[callID]; ok {
		t.Stop()
		delete(c.timers, callID)
	}
}

func (c *Coordinator) expire(callID string) {
	c.mu.Lock()
	s, ok := c.byID[callID]
	if !ok || s.Phase != PhaseRinging {
		c.mu.Unlock()
		return
	}
	var fx effects
	c.finishLocked(s, PhaseCalleeUnreachable)
	c.sendLocked(s.Caller, protocol.Ended(s.ID, s.Callee, s.Caller, protocol.EndNoAnswer), &fx)
	c.sendLocked(s.Callee, protocol.Ended(s.ID, s.Caller, s.Callee, protocol.EndNoAnswer), &fx)
	fx.records = recordsFor(*s)
	out := *s
	c.mu.Unlock()

	c.apply(context.Background(), fx)
	c.log.Info("call not answered", "call_id", out.ID, "caller", out.Caller, "callee", out.Callee)
}

/* ===== SIDE EFFECTS ===== */

func (c *Coordinator) apply(ctx context.Context, fx effects) {
	for _, conn := range fx.close {
		_ = conn.Close()
	}
	if len(fx.records) == 0 || c.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.recordTimeout)
	defer cancel()
	if err := c.recorder.Record(rctx, fx.records...); err != nil {
		c.log.Error("history write failed", "call_id", fx.records[0].CallID, "err", err)
	}
}

// recordOfflineMiss logs a missed call for an offline callee that has an account.
func (c *Coordinator) recordOfflineMiss(ctx context.Context, caller, callee string) {
	if c.accounts == nil {
		return
	}
	exists, err := c.accounts.Exists(ctx, callee)
	if err != nil {
		c.log.Warn("account lookup failed", "identity", callee, "err", err)
		return
	}
	if !exists {
		return
	}
	now := c.now()
	c.apply(ctx, effects{records: []history.Record{{
		CallID:               uuid.NewString(),
		OwnerIdentity:        callee,
		CounterpartyIdentity: caller,
		Direction:            history.DirectionIncoming,
		Outcome:              history.OutcomeMissed,
		StartedAt:            now,
	}}})
}

// recordsFor maps a terminal session to its per-participant history rows.
func recordsFor(s Session) []history.Record {
	row := func(owner, other string, dir history.Direction, outcome history.Outcome, dur int) history.Record {
		return history.Record{
			CallID:               s.ID,
			OwnerIdentity:        owner,
			CounterpartyIdentity: other,
			Direction:            dir,
			Outcome:              outcome,
			StartedAt:            s.CreatedAt,
			DurationSeconds:      dur,
		}
	}
	switch s.Phase {
	case PhaseRejected:
		return []history.Record{
			row(s.Caller, s.Callee, history.DirectionOutgoing, history.OutcomeRejected, 0),
		}
	case PhaseCallerCancelled, PhaseCalleeUnreachable:
		return []history.Record{
			row(s.Caller, s.Callee, history.DirectionOutgoing, history.OutcomeMissed, 0),
			row(s.Callee, s.Caller, history.DirectionIncoming, history.OutcomeMissed, 0),
		}
	case PhaseEnded:
		d := s.DurationSeconds()
		return []history.Record{
			row(s.Caller, s.Callee, history.DirectionOutgoing, history.OutcomeAnswered, d),
			row(s.Callee, s.Caller, history.DirectionIncoming, history.OutcomeAnswered, d),
		}
	}
	return nil
}
