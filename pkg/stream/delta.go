package stream

import (
	"github.com/prasetya/mika/pkg/message"
)

// StreamDelta is one incremental event from a provider stream. The
// assembler consumes a sequence of deltas and materializes a single
// frozen assistant message.
type StreamDelta interface {
	deltaKind() string
}

// TextDelta appends a fragment of assistant text.
type TextDelta struct {
	Text string
}

func (TextDelta) deltaKind() string { return "text_delta" }

// ThinkingDelta appends a fragment of reasoning content.
type ThinkingDelta struct {
	Text string
}

func (ThinkingDelta) deltaKind() string { return "thinking_delta" }

// ToolCallStart announces a tool call. Argument fragments for the call
// follow under the same ID.
type ToolCallStart struct {
	ID   string
	Name string
}

func (ToolCallStart) deltaKind() string { return "tool_call_start" }

// ToolCallArgumentDelta carries a fragment of the call's JSON arguments.
type ToolCallArgumentDelta struct {
	ID       string
	Fragment string
}

func (ToolCallArgumentDelta) deltaKind() string { return "tool_call_argument_delta" }

// ToolCallEnd closes a tool call; its accumulated argument fragments are
// parsed at this point.
type ToolCallEnd struct {
	ID string
}

func (ToolCallEnd) deltaKind() string { return "tool_call_end" }

// TurnEnd terminates the stream normally, carrying the provider's stop
// reason and token usage for the round.
type TurnEnd struct {
	StopReason message.StopReason
	Usage      message.Usage
}

func (TurnEnd) deltaKind() string { return "turn_end" }

// ErrorDelta terminates the stream abnormally. Any partially assembled
// message is discarded.
type ErrorDelta struct {
	Err error
}

func (ErrorDelta) deltaKind() string { return "error" }
