// Package gateway exposes sessions over websocket. A client connects,
// is bound to one session, and drives turns with prompt frames while
// display events stream back as JSON frames.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/prasetya/mika/pkg/agent"
	"github.com/prasetya/mika/pkg/stream"
)

// TurnRunner is the slice of the agent runner the gateway needs.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, input string, sink stream.Sink) (agent.TurnResult, error)
	Abort(sessionID string)
}

// ClientFrame is a message from the client.
type ClientFrame struct {
	Type string `json:"type"` // prompt, abort
	Text string `json:"text,omitempty"`
}

// ServerFrame is a message to the client. Data depends on Type: the
// display event kinds from pkg/stream, plus "session", "turn_result"
// and "error".
type ServerFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SessionData announces the bound session after connect.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// ErrorData carries a failure message.
type ErrorData struct {
	Message string `json:"message"`
}

func newFrame(frameType string, data interface{}) ServerFrame {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return ServerFrame{Type: frameType, Data: raw}
}
