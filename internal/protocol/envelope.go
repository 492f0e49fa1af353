// Package protocol defines the JSON envelope exchanged over the lobby
// websocket and the payload shapes carried by each envelope type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidType    = errors.New("envelope type must be domain:action[:qualifier]")
	ErrMissingPayload = errors.New("envelope payload is missing")
)

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(:[a-z][a-z0-9_-]*){1,3}$`)

// Envelope is the typed {type, payload} frame carried by the websocket
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New marshals payload into an envelope stamped with the current time.
func New(typ string, payload any) (Envelope, error) {
	if !ValidType(typ) {
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	env := Envelope{Type: typ, Timestamp: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = data
	return env, nil
}

// MustNew is New for payloads that are known to marshal.
func MustNew(typ string, payload any) Envelope {
	env, err := New(typ, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses a raw frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !ValidType(env.Type) {
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidType, env.Type)
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Bind unmarshals the payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("bind %s payload: %w", e.Type, err)
	}
	return nil
}

// ValidType reports whether typ is namespaced as domain:action[:qualifier],
// allowing one extra :ack segment.
func ValidType(typ string) bool {
	return typePattern.MatchString(typ)
}

// Domain returns the first segment of the type.
func Domain(typ string) string {
	domain, _, _ := strings.Cut(typ, ":")
	return domain
}

// AckType returns the acknowledgement type for a command type.
func AckType(typ string) string {
	return typ + ":ack"
}

// IsAck reports whether typ is an acknowledgement.
func IsAck(typ string) bool {
	return strings.HasSuffix(typ, ":ack")
}
