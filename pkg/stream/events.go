package stream

import (
	"github.com/prasetya/mika/pkg/message"
)

// DisplayEvent is a rendering notification emitted while a response is
// assembled or tools execute. Surfaces (CLI, gateway) subscribe through
// a Sink; the event layer itself never renders.
type DisplayEvent interface {
	eventKind() string
}

// TextAppended reports new assistant text ready for display.
type TextAppended struct {
	Text string `json:"text"`
}

func (TextAppended) eventKind() string { return "text_appended" }

// ThinkingAppended reports new reasoning content ready for display.
type ThinkingAppended struct {
	Text string `json:"text"`
}

func (ThinkingAppended) eventKind() string { return "thinking_appended" }

// ToolCallAnnounced reports that the model started a tool call.
type ToolCallAnnounced struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (ToolCallAnnounced) eventKind() string { return "tool_call_announced" }

// ToolCallArgumentAppended reports a fragment of a call's arguments,
// letting surfaces render arguments as they stream.
type ToolCallArgumentAppended struct {
	ID       string `json:"id"`
	Fragment string `json:"fragment"`
}

func (ToolCallArgumentAppended) eventKind() string { return "tool_call_argument_appended" }

// ToolResultReady reports a completed tool execution.
type ToolResultReady struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

func (ToolResultReady) eventKind() string { return "tool_result_ready" }

// TurnComplete reports the end of one provider round.
type TurnComplete struct {
	StopReason message.StopReason `json:"stop_reason"`
	Usage      message.Usage      `json:"usage"`
}

func (TurnComplete) eventKind() string { return "turn_complete" }

// ErrorEvent reports a stream or loop failure to surfaces.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) eventKind() string { return "error" }

// EventKind returns the wire name of a display event.
func EventKind(ev DisplayEvent) string {
	if ev == nil {
		return ""
	}
	return ev.eventKind()
}

// Sink receives display events. Implementations must not block for long;
// the assembler publishes synchronously.
type Sink interface {
	Publish(ev DisplayEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev DisplayEvent)

// Publish implements Sink.
func (f SinkFunc) Publish(ev DisplayEvent) { f(ev) }

func publish(sink Sink, ev DisplayEvent) {
	if sink != nil {
		sink.Publish(ev)
	}
}
