// Package v1 defines the auth-state stream protocol v1.
//
// It is shared between the agent and its clients (UI shells, smoke tools)
// and stays dependency-light so the wire format is authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol clients must request.
const Subprotocol = "ticketline.auth.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a stream and optionally names the role mask to evaluate (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the hello (server -> client).
	TypeHelloAck = "hello_ack"
	// TypeAuthState carries the current public auth state (server -> client).
	TypeAuthState = "auth_state"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var clientTypes = map[string]struct{}{
	TypeHello: {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ValidateClient checks an envelope received from a client.
func (e Envelope) ValidateClient() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%q want=%q", e.V, Version)
	}
	t := strings.TrimSpace(e.Type)
	if t == "" {
		return errors.New("missing type")
	}
	if _, ok := clientTypes[t]; !ok {
		return fmt.Errorf("unsupported type: %s", t)
	}
	return nil
}
