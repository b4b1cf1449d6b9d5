package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidJSON  = errors.New("protocol: invalid json")
	ErrUnknownType  = errors.New("protocol: unknown message type")
	ErrMissingField = errors.New("protocol: missing required field")
)

// Inbound is a validated client->server message. The concrete types below are the
// only implementations.
type Inbound interface {
	Kind() Type
}

type Register struct {
	Identity string
}

type CallInitiate struct {
	CalleeIdentity string
	Offer          json.RawMessage
}

type CallAccept struct {
	// CallerIdentity is informational; the session is resolved from the sender.
	CallerIdentity string
	Answer         json.RawMessage
}

type CallReject struct {
	CallerIdentity string
}

type Candidate struct {
	TargetIdentity string
	Candidate      json.RawMessage
}

type CallEnd struct {
	TargetIdentity string
}

func (Register) Kind() Type     { return TypeRegister }
func (CallInitiate) Kind() Type { return TypeCallInitiate }
func (CallAccept) Kind() Type   { return TypeCallAccept }
func (CallReject) Kind() Type   { return TypeCallReject }
func (Candidate) Kind() Type    { return TypeCandidate }
func (CallEnd) Kind() Type      { return TypeCallEnd }

type inboundFrame struct {
	Type           Type            `json:"type"`
	Identity       string          `json:"identity"`
	CalleeIdentity string          `json:"calleeIdentity"`
	CallerIdentity string          `json:"callerIdentity"`
	TargetIdentity string          `json:"targetIdentity"`
	Offer          json.RawMessage `json:"offer"`
	Answer         json.RawMessage `json:"answer"`
	Candidate      json.RawMessage `json:"candidate"`
}

// Decode parses one frame and checks the required fields for its type.
// Errors wrap ErrInvalidJSON, ErrUnknownType or ErrMissingField.
func Decode(raw []byte) (Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch f.Type {
	case TypeRegister:
		if strings.TrimSpace(f.Identity) == "" {
			return nil, missing("identity")
		}
		return Register{Identity: strings.TrimSpace(f.Identity)}, nil

	case TypeCallInitiate:
		if strings.TrimSpace(f.CalleeIdentity) == "" {
			return nil, missing("calleeIdentity")
		}
		if isEmpty(f.Offer) {
			return nil, missing("offer")
		}
		return CallInitiate{CalleeIdentity: strings.TrimSpace(f.CalleeIdentity), Offer: f.Offer}, nil

	case TypeCallAccept:
		if isEmpty(f.Answer) {
			return nil, missing("answer")
		}
		return CallAccept{CallerIdentity: strings.TrimSpace(f.CallerIdentity), Answer: f.Answer}, nil

	case TypeCallReject:
		return CallReject{CallerIdentity: strings.TrimSpace(f.CallerIdentity)}, nil

	case TypeCandidate:
		if strings.TrimSpace(f.TargetIdentity) == "" {
			return nil, missing("targetIdentity")
		}
		if isEmpty(f.Candidate) {
			return nil, missing("candidate")
		}
		return Candidate{TargetIdentity: strings.TrimSpace(f.TargetIdentity), Candidate: f.Candidate}, nil

	case TypeCallEnd:
		return CallEnd{TargetIdentity: strings.TrimSpace(f.TargetIdentity)}, nil

	case "":
		return nil, missing("type")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
