package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/prasetya/mika/pkg/message"
	"github.com/prasetya/mika/pkg/stream"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicProvider streams responses from the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates an Anthropic provider. baseURL overrides
// the default endpoint when non-empty.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Stream dispatches the request and converts Anthropic stream events to
// deltas on the returned channel.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan stream.StreamDelta, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan stream.StreamDelta, 64)
	go func() {
		defer close(out)
		p.consume(ctx, params, out)
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(req Request) (anthropic.MessageNewParams, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))

		case message.RoleTool:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, res := range msg.ToolResults() {
				blocks = append(blocks, anthropic.NewToolResultBlock(res.CallID, res.Output, res.IsError))
			}
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))

		case message.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, block := range msg.Content {
				switch b := block.(type) {
				case message.TextBlock:
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				case message.ToolCallBlock:
					blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.ArgumentsMap(), b.Name))
				}
				// Thinking content is not replayed.
			}
			if len(blocks) == 0 {
				continue
			}
			msgs = append(msgs, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role: %q", msg.Role)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.Parameters["properties"],
				},
			}
			if required, ok := spec.Parameters["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			} else if required, ok := spec.Parameters["required"].([]interface{}); ok {
				names := make([]string, 0, len(required))
				for _, v := range required {
					if s, ok := v.(string); ok {
						names = append(names, s)
					}
				}
				toolParam.InputSchema.Required = names
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params, nil
}

func (p *AnthropicProvider) consume(ctx context.Context, params anthropic.MessageNewParams, out chan<- stream.StreamDelta) {
	sse := p.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}

	// content_block index -> tool call id, for routing argument deltas.
	callIDs := make(map[int64]string)

	for sse.Next() {
		event := sse.Current()
		if err := acc.Accumulate(event); err != nil {
			out <- stream.ErrorDelta{Err: err}
			return
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if variant.ContentBlock.Type != "tool_use" {
				continue
			}
			callIDs[variant.Index] = variant.ContentBlock.ID
			out <- stream.ToolCallStart{ID: variant.ContentBlock.ID, Name: variant.ContentBlock.Name}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					out <- stream.TextDelta{Text: delta.Text}
				}
			case anthropic.ThinkingDelta:
				if delta.Thinking != "" {
					out <- stream.ThinkingDelta{Text: delta.Thinking}
				}
			case anthropic.InputJSONDelta:
				id, ok := callIDs[variant.Index]
				if !ok {
					continue
				}
				if delta.PartialJSON != "" {
					out <- stream.ToolCallArgumentDelta{ID: id, Fragment: delta.PartialJSON}
				}
			}

		case anthropic.ContentBlockStopEvent:
			if id, ok := callIDs[variant.Index]; ok {
				out <- stream.ToolCallEnd{ID: id}
				delete(callIDs, variant.Index)
			}
		}
	}

	if err := sse.Err(); err != nil {
		out <- stream.ErrorDelta{Err: err}
		return
	}

	log.Debug().
		Str("stop_reason", string(acc.StopReason)).
		Int64("output_tokens", acc.Usage.OutputTokens).
		Msg("anthropic stream complete")

	out <- stream.TurnEnd{
		StopReason: mapAnthropicStopReason(acc.StopReason),
		Usage: message.Usage{
			InputTokens:      int(acc.Usage.InputTokens),
			OutputTokens:     int(acc.Usage.OutputTokens),
			CacheReadTokens:  int(acc.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(acc.Usage.CacheCreationInputTokens),
		},
	}
}

func mapAnthropicStopReason(reason anthropic.StopReason) message.StopReason {
	switch reason {
	case anthropic.StopReasonEndTurn:
		return message.StopEndTurn
	case anthropic.StopReasonToolUse:
		return message.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return message.StopMaxTokens
	case anthropic.StopReasonStopSequence:
		return message.StopStopSequence
	default:
		return message.StopEndTurn
	}
}
