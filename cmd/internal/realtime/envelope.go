package realtime

import (
	"encoding/json"
	"time"
)

// Version is the session event protocol version carried in every envelope.
const Version = 1

// Envelope types.
const (
	TypeHello    = "session.hello"
	TypeReplaced = "session.replaced"
	TypeEnded    = "session.ended"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeError    = "error"
)

// Envelope is the JSON frame exchanged on /ws/session.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is sent once after a successful handshake.
type HelloPayload struct {
	ConnID    string    `json:"conn_id"`
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionPayload accompanies session.replaced and session.ended.
type SessionPayload struct {
	SubjectID string `json:"subject_id"`
	Reason    string `json:"reason"`
}

// ErrorPayload reports a rejected client frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// terminal reports whether the connection closes after the envelope is written.
func (e Envelope) terminal() bool {
	return e.Type == TypeReplaced || e.Type == TypeEnded
}

func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		id = ""
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: raw}
}
