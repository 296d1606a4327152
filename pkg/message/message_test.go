package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "user text",
			msg: Message{
				ID:        "m-1",
				Role:      RoleUser,
				Content:   []ContentBlock{TextBlock{Text: "hello"}},
				CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			name: "assistant with thinking, text, and tool call",
			msg: Message{
				ID:   "m-2",
				Role: RoleAssistant,
				Content: []ContentBlock{
					ThinkingBlock{Text: "considering options"},
					TextBlock{Text: "let me check"},
					ToolCallBlock{
						ID:        "call-1",
						Name:      "read",
						Arguments: json.RawMessage(`{"path":"/tmp/a"}`),
					},
				},
				StopReason: StopToolUse,
				Usage:      Usage{InputTokens: 10, OutputTokens: 42},
				CreatedAt:  time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
			},
		},
		{
			name: "tool results",
			msg: Message{
				ID:   "m-3",
				Role: RoleTool,
				Content: []ContentBlock{
					ToolResultBlock{CallID: "call-1", Output: "contents"},
					ToolResultBlock{CallID: "call-2", Output: "boom", IsError: true},
				},
				CreatedAt: time.Date(2026, 1, 2, 3, 4, 7, 0, time.UTC),
			},
		},
		{
			name: "tool call with invalid arguments",
			msg: Message{
				ID:   "m-4",
				Role: RoleAssistant,
				Content: []ContentBlock{
					ToolCallBlock{ID: "call-3", Name: "bash", ArgsInvalid: true},
				},
				StopReason: StopToolUse,
				CreatedAt:  time.Date(2026, 1, 2, 3, 4, 8, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			require.NoError(t, err)

			var got Message
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.msg, got)

			// A second encode of the decoded value must be identical.
			again, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(again))
		})
	}
}

func TestMessageUnmarshalUnknownBlockType(t *testing.T) {
	raw := `{"id":"m-1","role":"assistant","content":[{"type":"video","url":"x"}],"created_at":"2026-01-02T03:04:05Z"}`

	var got Message
	err := json.Unmarshal([]byte(raw), &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown content block type")
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 20, CacheReadTokens: 5}
	b := Usage{InputTokens: 1, OutputTokens: 2, CacheWriteTokens: 3}

	got := a.Add(b)
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 22, CacheReadTokens: 5, CacheWriteTokens: 3}, got)
}

func TestMessageText(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			ThinkingBlock{Text: "hidden"},
			TextBlock{Text: "part one "},
			ToolCallBlock{ID: "c1", Name: "ls"},
			TextBlock{Text: "part two"},
		},
	}
	assert.Equal(t, "part one part two", msg.Text())
}

func TestMessageToolCallsOrder(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			ToolCallBlock{ID: "c1", Name: "read"},
			TextBlock{Text: "and"},
			ToolCallBlock{ID: "c2", Name: "grep"},
		},
	}

	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "c2", calls[1].ID)
}

func TestUnresolvedToolCalls(t *testing.T) {
	conversation := []Message{
		NewUserMessage("do things"),
		{
			Role: RoleAssistant,
			Content: []ContentBlock{
				ToolCallBlock{ID: "c1", Name: "read"},
				ToolCallBlock{ID: "c2", Name: "bash"},
			},
			StopReason: StopToolUse,
		},
		NewToolMessage([]ToolResultBlock{{CallID: "c1", Output: "ok"}}),
	}

	unresolved := UnresolvedToolCalls(conversation)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "c2", unresolved[0].ID)
	assert.Equal(t, "bash", unresolved[0].Name)
}

func TestUnresolvedToolCallsAllResolved(t *testing.T) {
	conversation := []Message{
		{
			Role:       RoleAssistant,
			Content:    []ContentBlock{ToolCallBlock{ID: "c1", Name: "ls"}},
			StopReason: StopToolUse,
		},
		NewToolMessage([]ToolResultBlock{{CallID: "c1", Output: "."}}),
	}

	assert.Empty(t, UnresolvedToolCalls(conversation))
}

func TestArgumentsMap(t *testing.T) {
	tests := []struct {
		name  string
		block ToolCallBlock
		want  map[string]interface{}
	}{
		{
			name:  "valid object",
			block: ToolCallBlock{Arguments: json.RawMessage(`{"path":"/a","limit":2}`)},
			want:  map[string]interface{}{"path": "/a", "limit": float64(2)},
		},
		{
			name:  "empty arguments",
			block: ToolCallBlock{},
			want:  map[string]interface{}{},
		},
		{
			name:  "invalid flagged",
			block: ToolCallBlock{Arguments: json.RawMessage(`{"pa`), ArgsInvalid: true},
			want:  map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.block.ArgumentsMap())
		})
	}
}
