package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"

	"github.com/prasetya/mika/pkg/message"
	"github.com/prasetya/mika/pkg/stream"
)

// OpenAIProvider streams responses from the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates an OpenAI provider. baseURL overrides the
// default endpoint when non-empty, which also covers compatible servers.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Stream dispatches the request and converts chat completion chunks to
// deltas on the returned channel.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan stream.StreamDelta, error) {
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

func (p *OpenAIProvider) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{}

	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Text()))

		case message.RoleTool:
			// Chat completions take one tool message per call id.
			for _, res := range msg.ToolResults() {
				msgs = append(msgs, openai.ToolMessage(res.Output, res.CallID))
			}

		case message.RoleAssistant:
			calls := msg.ToolCalls()
			text := msg.Text()
			if len(calls) == 0 {
				if text != "" {
					msgs = append(msgs, openai.AssistantMessage(text))
				}
				continue
			}

			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
			for _, call := range calls {
				args := string(call.Arguments)
				if args == "" || call.ArgsInvalid {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role: %q", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

type openaiPartialCall struct {
	id      string
	name    string
	started bool
	pending strings.Builder
}

func (p *OpenAIProvider) consume(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- stream.StreamDelta) {
	sse := p.client.Chat.Completions.NewStreaming(ctx, params)

	calls := map[int64]*openaiPartialCall{}
	var usage message.Usage
	var stopReason message.StopReason
	finished := false

	closeCalls := func() {
		indices := make([]int64, 0, len(calls))
		for idx := range calls {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		for _, idx := range indices {
			if call := calls[idx]; call.started {
				out <- stream.ToolCallEnd{ID: call.id}
			}
		}
		calls = map[int64]*openaiPartialCall{}
	}

	for sse.Next() {
		chunk := sse.Current()

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = message.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			out <- stream.TextDelta{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &openaiPartialCall{}
				calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name += tc.Function.Name
			}

			// The call is announced once its identity is complete; any
			// argument fragments seen before that are buffered.
			if !call.started && call.id != "" && call.name != "" {
				call.started = true
				out <- stream.ToolCallStart{ID: call.id, Name: call.name}
				if buffered := call.pending.String(); buffered != "" {
					out <- stream.ToolCallArgumentDelta{ID: call.id, Fragment: buffered}
					call.pending.Reset()
				}
			}

			if tc.Function.Arguments != "" {
				if call.started {
					out <- stream.ToolCallArgumentDelta{ID: call.id, Fragment: tc.Function.Arguments}
				} else {
					call.pending.WriteString(tc.Function.Arguments)
				}
			}
		}

		if choice.FinishReason != "" {
			closeCalls()
			stopReason = mapOpenAIFinishReason(choice.FinishReason)
			finished = true
		}
	}

	if err := sse.Err(); err != nil {
		out <- stream.ErrorDelta{Err: err}
		return
	}
	if !finished {
		out <- stream.ErrorDelta{Err: fmt.Errorf("stream ended without finish reason")}
		return
	}

	log.Debug().
		Str("stop_reason", string(stopReason)).
		Int("output_tokens", usage.OutputTokens).
		Msg("openai stream complete")

	out <- stream.TurnEnd{StopReason: stopReason, Usage: usage}
}

func mapOpenAIFinishReason(reason string) message.StopReason {
	switch reason {
	case "stop":
		return message.StopEndTurn
	case "tool_calls", "function_call":
		return message.StopToolUse
	case "length":
		return message.StopMaxTokens
	case "content_filter":
		return message.StopError
	default:
		return message.StopEndTurn
	}
}
