package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"callrelay/internal/calls"
	"callrelay/internal/presence"
	"callrelay/internal/protocol"
)

// Error codes carried in call-failed.code.
const (
	CodeBusyLocal         = "BUSY_LOCAL"
	CodeTargetBusy        = "TARGET_BUSY"
	CodeSelfCall          = "SELF_CALL"
	CodeSessionNotRinging = "SESSION_NOT_RINGING"
	CodeNoActiveSession   = "NO_ACTIVE_SESSION"
	CodeIdentityMismatch  = "IDENTITY_MISMATCH"
	CodeSuperseded        = "SUPERSEDED"
	CodeUnknownType       = "UNKNOWN_TYPE"
	CodeMissingField      = "MISSING_FIELD"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeInternal          = "INTERNAL"
	CodeTargetOffline     = "TARGET_OFFLINE"
	CodePeerUnreachable   = "PEER_UNREACHABLE"
)

// Directory is the part of presence the relay drives directly.
type Directory interface {
	Register(identity string, conn presence.Conn) presence.Conn
	Owns(identity string, conn presence.Conn) bool
	SendSnapshot(conn presence.Conn) error
	Refresh(conn presence.Conn)
}

// Calls is the call coordinator as seen from the wire.
type Calls interface {
	Initiate(ctx context.Context, caller, callee string, offer json.RawMessage) (calls.Session, error)
	Accept(ctx context.Context, callee string, answer json.RawMessage) (calls.Session, error)
	Reject(ctx context.Context, callee string) (calls.Session, error)
	ExchangeCandidate(ctx context.Context, from, to string, candidate json.RawMessage) bool
	End(ctx context.Context, party string) (calls.Session, error)
	OnDisconnect(ctx context.Context, conn presence.Conn)
}

// Relay turns decoded frames from authenticated connections into coordinator calls and
// reports failures back to the sender as call-failed.
type Relay struct {
	dir   Directory
	calls Calls

	// normalize canonicalizes identities named by clients; nil keeps them as sent.
	normalize func(string) string

	log *slog.Logger
}

func NewRelay(dir Directory, c Calls, normalize func(string) string, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if normalize == nil {
		normalize = func(s string) string { return s }
	}
	return &Relay{dir: dir, calls: c, normalize: normalize, log: log}
}

// Connect registers conn as identity's live connection. A previous connection for the
// same identity is told why and closed with CloseSuperseded.
func (r *Relay) Connect(identity string, conn presence.Conn) {
	prev := r.dir.Register(identity, conn)
	if prev == nil {
		r.log.Info("signaling connected", "identity", identity, "conn_id", conn.ID())
		return
	}
	_ = prev.Send(protocol.Failed(protocol.ReasonUnauthenticated, CodeSuperseded, "signed in from another connection"))
	if sc, ok := prev.(interface{ CloseWith(int, string) error }); ok {
		_ = sc.CloseWith(CloseSuperseded, "superseded")
	} else {
		_ = prev.Close()
	}
	r.log.Info("signaling connection superseded", "identity", identity, "conn_id", conn.ID(), "prev_conn_id", prev.ID())
}

// KeepAlive extends conn's shared presence lease. It is a no-op for a superseded conn.
func (r *Relay) KeepAlive(conn presence.Conn) {
	r.dir.Refresh(conn)
}

// Disconnect runs once per connection after its read loop stops.
func (r *Relay) Disconnect(ctx context.Context, conn presence.Conn) {
	r.calls.OnDisconnect(ctx, conn)
}

// Handle processes one inbound frame from identity's connection.
func (r *Relay) Handle(ctx context.Context, identity string, conn presence.Conn, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("signaling handler panic", "identity", identity, "conn_id", conn.ID(), "panic", fmt.Sprint(rec))
			r.fail(conn, protocol.ReasonPayloadMalformed, CodeInternal, "internal error")
		}
	}()

	msg, err := protocol.Decode(raw)
	if err != nil {
		r.fail(conn, protocol.ReasonPayloadMalformed, decodeCode(err), err.Error())
		return
	}
	if !r.dir.Owns(identity, conn) {
		r.fail(conn, protocol.ReasonUnauthenticated, CodeSuperseded, "connection was superseded")
		return
	}

	switch m := msg.(type) {
	case protocol.Register:
		if r.normalize(m.Identity) != identity {
			r.fail(conn, protocol.ReasonUnauthenticated, CodeIdentityMismatch, "identity does not match token")
			return
		}
		_ = r.dir.SendSnapshot(conn)

	case protocol.CallInitiate:
		_, err := r.calls.Initiate(ctx, identity, r.normalize(m.CalleeIdentity), m.Offer)
		r.report(conn, err)

	case protocol.CallAccept:
		_, err := r.calls.Accept(ctx, identity, m.Answer)
		r.report(conn, err)

	case protocol.CallReject:
		_, err := r.calls.Reject(ctx, identity)
		r.report(conn, err)

	case protocol.Candidate:
		r.calls.ExchangeCandidate(ctx, identity, r.normalize(m.TargetIdentity), m.Candidate)

	case protocol.CallEnd:
		if _, err := r.calls.End(ctx, identity); err != nil && !errors.Is(err, calls.ErrNoActiveSession) {
			r.report(conn, err)
		}
	}
}

func (r *Relay) report(conn presence.Conn, err error) {
	if err == nil {
		return
	}
	reason, code := classify(err)
	r.fail(conn, reason, code, err.Error())
}

func (r *Relay) fail(conn presence.Conn, reason protocol.Reason, code, message string) {
	if err := conn.Send(protocol.Failed(reason, code, message)); err != nil {
		r.log.Debug("call-failed not delivered", "conn_id", conn.ID(), "code", code, "err", err)
	}
}

func classify(err error) (protocol.Reason, string) {
	switch {
	case errors.Is(err, calls.ErrTargetOffline):
		return protocol.ReasonTargetOffline, CodeTargetOffline
	case errors.Is(err, calls.ErrPeerUnreachable):
		return protocol.ReasonPeerUnreachable, CodePeerUnreachable
	case errors.Is(err, calls.ErrBusyLocal):
		return protocol.ReasonBusyOrInvalidState, CodeBusyLocal
	case errors.Is(err, calls.ErrTargetBusy):
		return protocol.ReasonBusyOrInvalidState, CodeTargetBusy
	case errors.Is(err, calls.ErrSelfCall):
		return protocol.ReasonBusyOrInvalidState, CodeSelfCall
	case errors.Is(err, calls.ErrSessionNotRinging):
		return protocol.ReasonBusyOrInvalidState, CodeSessionNotRinging
	case errors.Is(err, calls.ErrNoActiveSession):
		return protocol.ReasonBusyOrInvalidState, CodeNoActiveSession
	default:
		return protocol.ReasonPayloadMalformed, CodeInternal
	}
}

func decodeCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return CodeUnknownType
	case errors.Is(err, protocol.ErrMissingField):
		return CodeMissingField
	default:
		return CodeInvalidJSON
	}
}
