package protocol

import "encoding/json"

// Type names a signaling message. Keep these stable; clients switch on them.
type Type string

const (
	TypeRegister        Type = "register"
	TypePresenceChanged Type = "presence-changed"
	TypeOnlineSnapshot  Type = "online-snapshot"
	TypeCallInitiate    Type = "call-initiate"
	TypeCallRinging     Type = "call-ringing"
	TypeCallAccept      Type = "call-accept"
	TypeCallReject      Type = "call-reject"
	TypeCandidate       Type = "candidate-exchange"
	TypeCallEnd         Type = "call-end"
	TypeCallFailed      Type = "call-failed"
)

// Status is a presence state as seen by clients.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Reason is the failure category carried by call-failed.
type Reason string

const (
	ReasonUnauthenticated    Reason = "Unauthenticated"
	ReasonTargetOffline      Reason = "TargetOffline"
	ReasonBusyOrInvalidState Reason = "BusyOrInvalidState"
	ReasonPayloadMalformed   Reason = "PayloadMalformed"
	ReasonPeerUnreachable    Reason = "PeerUnreachableDuringForward"
)

// End reasons carried by call-end.
const (
	EndHangup      = "hangup"
	EndRejected    = "rejected"
	EndCancelled   = "cancelled"
	EndNoAnswer    = "no-answer"
	EndDisconnect  = "disconnected"
	EndUnreachable = "unreachable"
)

// PresenceItem is one row of an online snapshot.
type PresenceItem struct {
	Identity string `json:"identity"`
	Status   Status `json:"status"`
}

// Message is the outbound wire frame. Only the fields relevant to Type are set.
// Opaque negotiation payloads are json.RawMessage and are never re-encoded.
type Message struct {
	Type Type `json:"type"`

	CallID         string `json:"callId,omitempty"`
	Identity       string `json:"identity,omitempty"`
	Status         Status `json:"status,omitempty"`
	CallerIdentity string `json:"callerIdentity,omitempty"`
	CalleeIdentity string `json:"calleeIdentity,omitempty"`
	SenderIdentity string `json:"senderIdentity,omitempty"`
	TargetIdentity string `json:"targetIdentity,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Users is a pointer so an empty snapshot still encodes as [].
	Users *[]PresenceItem `json:"users,omitempty"`

	ReasonCode Reason `json:"reasonCode,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	EndReason  string `json:"reason,omitempty"`
}

func PresenceChanged(identity string, status Status) Message {
	return Message{Type: TypePresenceChanged, Identity: identity, Status: status}
}

func OnlineSnapshot(items []PresenceItem) Message {
	if items == nil {
		items = []PresenceItem{}
	}
	return Message{Type: TypeOnlineSnapshot, Users: &items}
}

// Snapshot returns the users of an online-snapshot message.
func (m Message) Snapshot() []PresenceItem {
	if m.Users == nil {
		return nil
	}
	return *m.Users
}

func IncomingCall(callID, caller, callee string, offer json.RawMessage) Message {
	return Message{Type: TypeCallInitiate, CallID: callID, CallerIdentity: caller, CalleeIdentity: callee, Offer: offer}
}

func Ringing(callID, callee string) Message {
	return Message{Type: TypeCallRinging, CallID: callID, CalleeIdentity: callee}
}

func Accepted(callID, callee string, answer json.RawMessage) Message {
	return Message{Type: TypeCallAccept, CallID: callID, CalleeIdentity: callee, Answer: answer}
}

func Rejected(callID, callee string) Message {
	return Message{Type: TypeCallReject, CallID: callID, CalleeIdentity: callee}
}

func CandidateFrom(sender, target string, candidate json.RawMessage) Message {
	return Message{Type: TypeCandidate, SenderIdentity: sender, TargetIdentity: target, Candidate: candidate}
}

func Ended(callID, sender, target, reason string) Message {
	return Message{Type: TypeCallEnd, CallID: callID, SenderIdentity: sender, TargetIdentity: target, EndReason: reason}
}

func Failed(reason Reason, code, message string) Message {
	return Message{Type: TypeCallFailed, ReasonCode: reason, Code: code, Message: message}
}

// Encode renders m as a single JSON text frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
