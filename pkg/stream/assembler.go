package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prasetya/mika/pkg/message"
)

var (
	// ErrStreamFailure wraps provider-side stream errors. The partial
	// message is discarded when this is returned.
	ErrStreamFailure = errors.New("stream failure")

	// ErrProtocolViolation indicates the delta sequence broke the stream
	// contract (argument fragment for an unknown call, duplicate start).
	ErrProtocolViolation = errors.New("stream protocol violation")
)

// Assembler folds a channel of stream deltas into one frozen assistant
// message, publishing display events along the way.
type Assembler struct {
	sink Sink
}

// NewAssembler builds an assembler publishing to sink. A nil sink is
// valid and suppresses display events.
func NewAssembler(sink Sink) *Assembler {
	return &Assembler{sink: sink}
}

type openCall struct {
	index int
	args  strings.Builder
	done  bool
}

// Run consumes deltas until TurnEnd, ErrorDelta, channel close, or
// context cancellation. On TurnEnd it returns the frozen message; every
// other exit discards the partial message and returns an error.
func (a *Assembler) Run(ctx context.Context, deltas <-chan StreamDelta) (message.Message, error) {
	var content []message.ContentBlock
	calls := make(map[string]*openCall)

	for {
		select {
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		case delta, ok := <-deltas:
			if !ok {
				return message.Message{}, fmt.Errorf("%w: stream closed before turn end", ErrStreamFailure)
			}

			switch d := delta.(type) {
			case TextDelta:
				if d.Text == "" {
					continue
				}
				content = appendText(content, d.Text)
				publish(a.sink, TextAppended{Text: d.Text})

			case ThinkingDelta:
				if d.Text == "" {
					continue
				}
				content = appendThinking(content, d.Text)
				publish(a.sink, ThinkingAppended{Text: d.Text})

			case ToolCallStart:
				if _, exists := calls[d.ID]; exists {
					return message.Message{}, fmt.Errorf("%w: duplicate tool call start %q", ErrProtocolViolation, d.ID)
				}
				content = append(content, message.ToolCallBlock{ID: d.ID, Name: d.Name})
				calls[d.ID] = &openCall{index: len(content) - 1}
				publish(a.sink, ToolCallAnnounced{ID: d.ID, Name: d.Name})

			case ToolCallArgumentDelta:
				call, exists := calls[d.ID]
				if !exists || call.done {
					return message.Message{}, fmt.Errorf("%w: argument fragment for unknown tool call %q", ErrProtocolViolation, d.ID)
				}
				call.args.WriteString(d.Fragment)
				publish(a.sink, ToolCallArgumentAppended{ID: d.ID, Fragment: d.Fragment})

			case ToolCallEnd:
				call, exists := calls[d.ID]
				if !exists {
					return message.Message{}, fmt.Errorf("%w: end for unknown tool call %q", ErrProtocolViolation, d.ID)
				}
				if call.done {
					return message.Message{}, fmt.Errorf("%w: duplicate tool call end %q", ErrProtocolViolation, d.ID)
				}
				content[call.index] = sealCall(content[call.index].(message.ToolCallBlock), call)

			case TurnEnd:
				// Providers occasionally omit the explicit end marker for
				// the final call; seal anything still open.
				for id, call := range calls {
					if call.done {
						continue
					}
					log.Debug().Str("tool_call_id", id).Msg("sealing tool call left open at turn end")
					content[call.index] = sealCall(content[call.index].(message.ToolCallBlock), call)
				}

				msg := message.Message{
					ID:         uuid.New().String(),
					Role:       message.RoleAssistant,
					Content:    content,
					StopReason: d.StopReason,
					Usage:      d.Usage,
					CreatedAt:  time.Now().UTC(),
				}
				publish(a.sink, TurnComplete{StopReason: d.StopReason, Usage: d.Usage})
				return msg, nil

			case ErrorDelta:
				err := d.Err
				if err == nil {
					err = errors.New("provider reported an unspecified error")
				}
				publish(a.sink, ErrorEvent{Message: err.Error()})
				return message.Message{}, fmt.Errorf("%w: %v", ErrStreamFailure, err)

			default:
				return message.Message{}, fmt.Errorf("%w: unrecognized delta %T", ErrProtocolViolation, delta)
			}
		}
	}
}

// appendText extends an open trailing text block, or opens a new one if
// the last block is anything else. Text arriving after a tool call
// therefore starts a fresh block.
func appendText(content []message.ContentBlock, text string) []message.ContentBlock {
	if len(content) > 0 {
		if tb, ok := content[len(content)-1].(message.TextBlock); ok {
			tb.Text += text
			content[len(content)-1] = tb
			return content
		}
	}
	return append(content, message.TextBlock{Text: text})
}

func appendThinking(content []message.ContentBlock, text string) []message.ContentBlock {
	if len(content) > 0 {
		if tb, ok := content[len(content)-1].(message.ThinkingBlock); ok {
			tb.Text += text
			content[len(content)-1] = tb
			return content
		}
	}
	return append(content, message.ThinkingBlock{Text: text})
}

// sealCall parses the accumulated argument fragments. Empty arguments
// become an empty object; unparsable arguments flag the call invalid
// rather than failing the stream, so the dispatcher can report the
// problem back to the model as a tool error.
func sealCall(block message.ToolCallBlock, call *openCall) message.ToolCallBlock {
	call.done = true

	raw := strings.TrimSpace(call.args.String())
	if raw == "" {
		block.Arguments = json.RawMessage("{}")
		return block
	}

	if !json.Valid([]byte(raw)) {
		log.Warn().
			Str("tool_call_id", block.ID).
			Str("tool", block.Name).
			Msg("tool call arguments are not valid JSON")
		block.Arguments = json.RawMessage(nil)
		block.ArgsInvalid = true
		return block
	}

	block.Arguments = json.RawMessage(raw)
	return block
}
