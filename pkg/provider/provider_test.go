package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetya/mika/pkg/message"
)

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantName string
		wantErr  bool
	}{
		{name: "anthropic", provider: "anthropic", wantName: "anthropic"},
		{name: "openai", provider: "openai", wantName: "openai"},
		{name: "unknown", provider: "llama-farm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(Config{Provider: tt.provider, APIKey: "k"})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limit status", err: errors.New("request failed: 429 Too Many Requests"), want: true},
		{name: "rate limit text", err: errors.New("rate limit exceeded"), want: true},
		{name: "overloaded", err: errors.New("overloaded_error: try again"), want: true},
		{name: "bad gateway", err: errors.New("502 Bad Gateway"), want: true},
		{name: "internal error", err: errors.New("500 Internal Server Error"), want: true},
		{name: "connection reset", err: errors.New("read tcp: ECONNRESET"), want: true},
		{name: "bad request", err: errors.New("400 invalid request"), want: false},
		{name: "auth failure", err: errors.New("401 Unauthorized"), want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestAnthropicBuildParams(t *testing.T) {
	p := NewAnthropicProvider("k", "")

	msgs := []message.Message{
		message.NewUserMessage("read the file"),
		{
			Role: message.RoleAssistant,
			Content: []message.ContentBlock{
				message.ThinkingBlock{Text: "not replayed"},
				message.TextBlock{Text: "on it"},
				message.ToolCallBlock{ID: "c1", Name: "read", Arguments: json.RawMessage(`{"path":"/a"}`)},
			},
			StopReason: message.StopToolUse,
		},
		message.NewToolMessage([]message.ToolResultBlock{{CallID: "c1", Output: "data"}}),
	}

	params, err := p.buildParams(Request{
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "be helpful",
		Messages:     msgs,
		MaxTokens:    1024,
		Tools: []ToolSpec{{
			Name:        "read",
			Description: "Read a file",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []string{"path"},
			},
		}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, "claude-sonnet-4-5", params.Model)
	assert.EqualValues(t, 1024, params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be helpful", params.System[0].Text)
	require.Len(t, params.Messages, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, params.Messages[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, params.Messages[1].Role)
	// Thinking block is dropped on replay: text + tool use only.
	assert.Len(t, params.Messages[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, params.Messages[2].Role)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "read", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestAnthropicDefaultMaxTokens(t *testing.T) {
	p := NewAnthropicProvider("k", "")

	params, err := p.buildParams(Request{
		Model:    "claude-sonnet-4-5",
		Messages: []message.Message{message.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.EqualValues(t, anthropicDefaultMaxTokens, params.MaxTokens)
}

func TestMapAnthropicStopReason(t *testing.T) {
	assert.Equal(t, message.StopEndTurn, mapAnthropicStopReason(anthropic.StopReasonEndTurn))
	assert.Equal(t, message.StopToolUse, mapAnthropicStopReason(anthropic.StopReasonToolUse))
	assert.Equal(t, message.StopMaxTokens, mapAnthropicStopReason(anthropic.StopReasonMaxTokens))
	assert.Equal(t, message.StopStopSequence, mapAnthropicStopReason(anthropic.StopReasonStopSequence))
	assert.Equal(t, message.StopEndTurn, mapAnthropicStopReason(""))
}

func TestOpenAIBuildParams(t *testing.T) {
	p := NewOpenAIProvider("k", "")

	msgs := []message.Message{
		message.NewUserMessage("list files"),
		{
			Role: message.RoleAssistant,
			Content: []message.ContentBlock{
				message.ToolCallBlock{ID: "c1", Name: "ls", Arguments: json.RawMessage(`{"path":"."}`)},
				message.ToolCallBlock{ID: "c2", Name: "ls", ArgsInvalid: true},
			},
			StopReason: message.StopToolUse,
		},
		message.NewToolMessage([]message.ToolResultBlock{
			{CallID: "c1", Output: "a.go"},
			{CallID: "c2", Output: "invalid arguments", IsError: true},
		}),
	}

	params, err := p.buildParams(Request{
		Model:        "gpt-4o",
		SystemPrompt: "be terse",
		Messages:     msgs,
		MaxTokens:    512,
		Tools: []ToolSpec{{
			Name:        "ls",
			Description: "List a directory",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, "gpt-4o", params.Model)
	// system + user + assistant + one tool message per result
	require.Len(t, params.Messages, 5)
	require.NotNil(t, params.Messages[2].OfAssistant)
	toolCalls := params.Messages[2].OfAssistant.ToolCalls
	require.Len(t, toolCalls, 2)
	assert.Equal(t, "c1", toolCalls[0].ID)
	assert.JSONEq(t, `{"path":"."}`, toolCalls[0].Function.Arguments)
	// Invalid arguments replay as an empty object.
	assert.Equal(t, "{}", toolCalls[1].Function.Arguments)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "ls", params.Tools[0].Function.Name)
}

func TestMapOpenAIFinishReason(t *testing.T) {
	assert.Equal(t, message.StopEndTurn, mapOpenAIFinishReason("stop"))
	assert.Equal(t, message.StopToolUse, mapOpenAIFinishReason("tool_calls"))
	assert.Equal(t, message.StopMaxTokens, mapOpenAIFinishReason("length"))
	assert.Equal(t, message.StopError, mapOpenAIFinishReason("content_filter"))
	assert.Equal(t, message.StopEndTurn, mapOpenAIFinishReason("unheard_of"))
}
