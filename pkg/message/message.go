package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason is the provider-declared cause for ending a streamed response.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopError        StopReason = "error"
)

// Usage tracks token consumption for a single provider round.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Add accumulates usage across rounds.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
	}
}

// ContentBlock is one element of a message's ordered content sequence.
// Concrete types: TextBlock, ThinkingBlock, ToolCallBlock, ToolResultBlock.
type ContentBlock interface {
	BlockType() string
}

// TextBlock holds plain assistant or user text.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) BlockType() string { return "text" }

// ThinkingBlock holds model reasoning content that is streamed but not
// sent back to the provider as regular text.
type ThinkingBlock struct {
	Text string `json:"text"`
}

func (ThinkingBlock) BlockType() string { return "thinking" }

// ToolCallBlock is a model-issued request to invoke a named tool.
// Arguments holds the raw JSON payload as assembled from the stream;
// ArgsInvalid is set when the payload failed to parse, in which case the
// dispatcher converts the call into an error result instead of executing.
type ToolCallBlock struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	ArgsInvalid bool            `json:"args_invalid,omitempty"`
}

func (ToolCallBlock) BlockType() string { return "tool_call" }

// ArgumentsMap decodes the raw arguments into a generic map. Invalid or
// empty payloads decode to an empty map.
func (b ToolCallBlock) ArgumentsMap() map[string]interface{} {
	out := map[string]interface{}{}
	if len(b.Arguments) == 0 || b.ArgsInvalid {
		return out
	}
	if err := json.Unmarshal(b.Arguments, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// ToolResultBlock carries the outcome of a tool call back to the model.
type ToolResultBlock struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) BlockType() string { return "tool_result" }

// Message is one turn of a conversation: an ordered sequence of content
// blocks with a role. Messages are built incrementally by the stream
// assembler and are immutable once frozen.
type Message struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewUserMessage builds a finalized user message from plain text.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   []ContentBlock{TextBlock{Text: text}},
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolMessage builds a tool-role message carrying results for one or
// more tool calls, in the order given.
func NewToolMessage(results []ToolResultBlock) Message {
	content := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		content = append(content, r)
	}
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleTool,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Text returns all text content concatenated in block order.
func (m Message) Text() string {
	var out string
	for _, block := range m.Content {
		if tb, ok := block.(TextBlock); ok {
			out += tb.Text
		}
	}
	return out
}

// ToolCalls returns the tool call blocks in announcement order.
func (m Message) ToolCalls() []ToolCallBlock {
	var calls []ToolCallBlock
	for _, block := range m.Content {
		if tc, ok := block.(ToolCallBlock); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResults returns the tool result blocks in block order.
func (m Message) ToolResults() []ToolResultBlock {
	var results []ToolResultBlock
	for _, block := range m.Content {
		if tr, ok := block.(ToolResultBlock); ok {
			results = append(results, tr)
		}
	}
	return results
}

// UnresolvedToolCalls scans a conversation and returns every tool call
// that has no matching result in any later message. The agent loop uses
// this on session resume to synthesize error results for calls that were
// interrupted before completing.
func UnresolvedToolCalls(messages []Message) []ToolCallBlock {
	resolved := make(map[string]bool)
	for _, msg := range messages {
		for _, res := range msg.ToolResults() {
			resolved[res.CallID] = true
		}
	}

	var unresolved []ToolCallBlock
	for _, msg := range messages {
		if msg.Role != RoleAssistant {
			continue
		}
		for _, call := range msg.ToolCalls() {
			if !resolved[call.ID] {
				unresolved = append(unresolved, call)
			}
		}
	}
	return unresolved
}

type messageEnvelope struct {
	ID         string            `json:"id"`
	Role       Role              `json:"role"`
	Content    []json.RawMessage `json:"content"`
	StopReason StopReason        `json:"stop_reason,omitempty"`
	Usage      *Usage            `json:"usage,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// MarshalJSON encodes the content sequence as a type-discriminated union
// so persisted sessions round-trip exactly.
func (m Message) MarshalJSON() ([]byte, error) {
	env := messageEnvelope{
		ID:         m.ID,
		Role:       m.Role,
		StopReason: m.StopReason,
		CreatedAt:  m.CreatedAt,
	}
	if m.Usage != (Usage{}) {
		usage := m.Usage
		env.Usage = &usage
	}

	env.Content = make([]json.RawMessage, 0, len(m.Content))
	for _, block := range m.Content {
		raw, err := marshalBlock(block)
		if err != nil {
			return nil, err
		}
		env.Content = append(env.Content, raw)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the type-discriminated content union.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	m.ID = env.ID
	m.Role = env.Role
	m.StopReason = env.StopReason
	m.CreatedAt = env.CreatedAt
	if env.Usage != nil {
		m.Usage = *env.Usage
	} else {
		m.Usage = Usage{}
	}

	m.Content = make([]ContentBlock, 0, len(env.Content))
	for _, raw := range env.Content {
		block, err := unmarshalBlock(raw)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, block)
	}
	return nil
}

func marshalBlock(block ContentBlock) (json.RawMessage, error) {
	inner, err := json.Marshal(block)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", block.BlockType()))
	return json.Marshal(fields)
}

func unmarshalBlock(raw json.RawMessage) (ContentBlock, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case "text":
		var b TextBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "thinking":
		var b ThinkingBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "tool_call":
		var b ToolCallBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "tool_result":
		var b ToolResultBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown content block type: %q", header.Type)
	}
}
