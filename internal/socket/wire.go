// Package socket owns the authenticated transport connection: the wire
// codec, the reconnect policy, and the registry of live channel sessions.
package socket

import (
	"encoding/json"
	"fmt"
)

// Frame is the unit of exchange with the chat service. Server pushes carry
// a topic and event; replies to client requests additionally echo the
// request ref.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// Events the client sends.
const (
	EventJoin  = "join"
	EventLeave = "leave"
	EventReply = "reply"
)

// Reply is the payload of an EventReply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Ok reports whether the reply acknowledges success.
func (r *Reply) Ok() bool { return r.Status == "ok" }

// Reason extracts the error reason from a failed reply.
func (r *Reply) Reason() string {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(r.Response, &body); err == nil && body.Reason != "" {
		return body.Reason
	}
	return r.Status
}

func unmarshalReply(f *Frame, r *Reply) error {
	if len(f.Payload) == 0 {
		return NewError(ErrCodeConnection, "reply without payload", nil)
	}
	if err := json.Unmarshal(f.Payload, r); err != nil {
		return NewError(ErrCodeConnection, "decode reply", err)
	}
	return nil
}

// NewFrame builds a frame with a JSON-encoded payload.
func NewFrame(topic, event string, payload any) (*Frame, error) {
	f := &Frame{Topic: topic, Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Payload = raw
	}
	return f, nil
}
