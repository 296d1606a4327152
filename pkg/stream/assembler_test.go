package stream

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetya/mika/pkg/message"
)

func feed(deltas ...StreamDelta) <-chan StreamDelta {
	ch := make(chan StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

type recordingSink struct {
	events []DisplayEvent
}

func (s *recordingSink) Publish(ev DisplayEvent) {
	s.events = append(s.events, ev)
}

func TestAssemblerTextOnly(t *testing.T) {
	a := NewAssembler(nil)

	msg, err := a.Run(context.Background(), feed(
		TextDelta{Text: "Hello"},
		TextDelta{Text: ", world"},
		TurnEnd{StopReason: message.StopEndTurn, Usage: message.Usage{InputTokens: 3, OutputTokens: 7}},
	))
	require.NoError(t, err)

	assert.Equal(t, message.RoleAssistant, msg.Role)
	assert.Equal(t, message.StopEndTurn, msg.StopReason)
	assert.Equal(t, 7, msg.Usage.OutputTokens)
	assert.NotEmpty(t, msg.ID)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, message.TextBlock{Text: "Hello, world"}, msg.Content[0])
}

func TestAssemblerInterleavedOrder(t *testing.T) {
	a := NewAssembler(nil)

	msg, err := a.Run(context.Background(), feed(
		ThinkingDelta{Text: "hmm "},
		ThinkingDelta{Text: "ok"},
		TextDelta{Text: "Checking the file."},
		ToolCallStart{ID: "c1", Name: "read"},
		ToolCallArgumentDelta{ID: "c1", Fragment: `{"path":`},
		ToolCallArgumentDelta{ID: "c1", Fragment: `"/tmp/a"}`},
		ToolCallEnd{ID: "c1"},
		TextDelta{Text: "Also listing."},
		ToolCallStart{ID: "c2", Name: "ls"},
		ToolCallEnd{ID: "c2"},
		TurnEnd{StopReason: message.StopToolUse},
	))
	require.NoError(t, err)

	require.Len(t, msg.Content, 5)
	assert.Equal(t, message.ThinkingBlock{Text: "hmm ok"}, msg.Content[0])
	assert.Equal(t, message.TextBlock{Text: "Checking the file."}, msg.Content[1])

	c1, ok := msg.Content[2].(message.ToolCallBlock)
	require.True(t, ok)
	assert.Equal(t, "c1", c1.ID)
	assert.Equal(t, "read", c1.Name)
	assert.JSONEq(t, `{"path":"/tmp/a"}`, string(c1.Arguments))
	assert.False(t, c1.ArgsInvalid)

	// Text after a tool call opens a new block.
	assert.Equal(t, message.TextBlock{Text: "Also listing."}, msg.Content[3])

	c2, ok := msg.Content[4].(message.ToolCallBlock)
	require.True(t, ok)
	assert.Equal(t, "c2", c2.ID)
	assert.Equal(t, json.RawMessage("{}"), c2.Arguments)
}

func TestAssemblerConcurrentArgumentFragments(t *testing.T) {
	// Fragments for two calls interleaved; each call's arguments must be
	// reassembled from only its own fragments, in arrival order.
	a := NewAssembler(nil)

	msg, err := a.Run(context.Background(), feed(
		ToolCallStart{ID: "c1", Name: "grep"},
		ToolCallStart{ID: "c2", Name: "find"},
		ToolCallArgumentDelta{ID: "c2", Fragment: `{"pattern"`},
		ToolCallArgumentDelta{ID: "c1", Fragment: `{"query":`},
		ToolCallArgumentDelta{ID: "c2", Fragment: `:"*.go"}`},
		ToolCallArgumentDelta{ID: "c1", Fragment: `"TODO"}`},
		ToolCallEnd{ID: "c2"},
		ToolCallEnd{ID: "c1"},
		TurnEnd{StopReason: message.StopToolUse},
	))
	require.NoError(t, err)

	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	// Announcement order, not completion order.
	assert.Equal(t, "c1", calls[0].ID)
	assert.JSONEq(t, `{"query":"TODO"}`, string(calls[0].Arguments))
	assert.Equal(t, "c2", calls[1].ID)
	assert.JSONEq(t, `{"pattern":"*.go"}`, string(calls[1].Arguments))
}

func TestAssemblerRandomizedFragmentInterleaving(t *testing.T) {
	// Two independent calls may interleave their deltas in any merge
	// order. Whatever the shuffle, each call's arguments reassemble
	// from its own fragments and calls land in announcement order.
	c1 := []StreamDelta{
		ToolCallStart{ID: "c1", Name: "grep"},
		ToolCallArgumentDelta{ID: "c1", Fragment: `{"query":`},
		ToolCallArgumentDelta{ID: "c1", Fragment: `"TODO",`},
		ToolCallArgumentDelta{ID: "c1", Fragment: `"limit":3}`},
		ToolCallEnd{ID: "c1"},
	}
	c2 := []StreamDelta{
		ToolCallStart{ID: "c2", Name: "find"},
		ToolCallArgumentDelta{ID: "c2", Fragment: `{"pattern":`},
		ToolCallArgumentDelta{ID: "c2", Fragment: `"*.go"}`},
		ToolCallEnd{ID: "c2"},
	}

	for seed := int64(0); seed < 32; seed++ {
		rng := rand.New(rand.NewSource(seed))

		deltas := make([]StreamDelta, 0, len(c1)+len(c2)+1)
		i, j := 0, 0
		for i < len(c1) || j < len(c2) {
			if i < len(c1) && (j >= len(c2) || rng.Intn(2) == 0) {
				deltas = append(deltas, c1[i])
				i++
			} else {
				deltas = append(deltas, c2[j])
				j++
			}
		}
		wantFirst := deltas[0].(ToolCallStart).ID
		deltas = append(deltas, TurnEnd{StopReason: message.StopToolUse})

		a := NewAssembler(nil)
		msg, err := a.Run(context.Background(), feed(deltas...))
		require.NoError(t, err, "seed %d", seed)

		calls := msg.ToolCalls()
		require.Len(t, calls, 2, "seed %d", seed)
		assert.Equal(t, wantFirst, calls[0].ID, "seed %d: calls must keep announcement order", seed)

		byID := make(map[string]message.ToolCallBlock, len(calls))
		for _, c := range calls {
			byID[c.ID] = c
		}
		assert.JSONEq(t, `{"query":"TODO","limit":3}`, string(byID["c1"].Arguments), "seed %d", seed)
		assert.JSONEq(t, `{"pattern":"*.go"}`, string(byID["c2"].Arguments), "seed %d", seed)
		assert.False(t, byID["c1"].ArgsInvalid, "seed %d", seed)
		assert.False(t, byID["c2"].ArgsInvalid, "seed %d", seed)
	}
}

func TestAssemblerInvalidArguments(t *testing.T) {
	a := NewAssembler(nil)

	msg, err := a.Run(context.Background(), feed(
		ToolCallStart{ID: "c1", Name: "bash"},
		ToolCallArgumentDelta{ID: "c1", Fragment: `{"command": "ls`},
		ToolCallEnd{ID: "c1"},
		TurnEnd{StopReason: message.StopToolUse},
	))
	require.NoError(t, err, "malformed arguments must not fail the stream")

	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].ArgsInvalid)
}

func TestAssemblerUnclosedCallSealedAtTurnEnd(t *testing.T) {
	a := NewAssembler(nil)

	msg, err := a.Run(context.Background(), feed(
		ToolCallStart{ID: "c1", Name: "read"},
		ToolCallArgumentDelta{ID: "c1", Fragment: `{"path":"/x"}`},
		TurnEnd{StopReason: message.StopToolUse},
	))
	require.NoError(t, err)

	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"path":"/x"}`, string(calls[0].Arguments))
}

func TestAssemblerErrorDeltaDiscardsPartial(t *testing.T) {
	sink := &recordingSink{}
	a := NewAssembler(sink)

	_, err := a.Run(context.Background(), feed(
		TextDelta{Text: "partial"},
		ErrorDelta{Err: errors.New("overloaded")},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamFailure)
	assert.Contains(t, err.Error(), "overloaded")

	last := sink.events[len(sink.events)-1]
	assert.IsType(t, ErrorEvent{}, last)
}

func TestAssemblerProtocolViolations(t *testing.T) {
	tests := []struct {
		name   string
		deltas []StreamDelta
	}{
		{
			name: "fragment for unknown call",
			deltas: []StreamDelta{
				ToolCallArgumentDelta{ID: "ghost", Fragment: "{}"},
			},
		},
		{
			name: "end for unknown call",
			deltas: []StreamDelta{
				ToolCallEnd{ID: "ghost"},
			},
		},
		{
			name: "duplicate start",
			deltas: []StreamDelta{
				ToolCallStart{ID: "c1", Name: "ls"},
				ToolCallStart{ID: "c1", Name: "ls"},
			},
		},
		{
			name: "fragment after end",
			deltas: []StreamDelta{
				ToolCallStart{ID: "c1", Name: "ls"},
				ToolCallEnd{ID: "c1"},
				ToolCallArgumentDelta{ID: "c1", Fragment: "{}"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(nil)
			_, err := a.Run(context.Background(), feed(tt.deltas...))
			assert.ErrorIs(t, err, ErrProtocolViolation)
		})
	}
}

func TestAssemblerStreamClosedEarly(t *testing.T) {
	a := NewAssembler(nil)

	_, err := a.Run(context.Background(), feed(TextDelta{Text: "cut off"}))
	assert.ErrorIs(t, err, ErrStreamFailure)
}

func TestAssemblerContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan StreamDelta)
	a := NewAssembler(nil)

	done := make(chan error, 1)
	go func() {
		_, err := a.Run(ctx, ch)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("assembler did not observe cancellation")
	}
}

func TestAssemblerPublishesDisplayEvents(t *testing.T) {
	sink := &recordingSink{}
	a := NewAssembler(sink)

	_, err := a.Run(context.Background(), feed(
		TextDelta{Text: "hi"},
		ToolCallStart{ID: "c1", Name: "ls"},
		ToolCallArgumentDelta{ID: "c1", Fragment: "{}"},
		ToolCallEnd{ID: "c1"},
		TurnEnd{StopReason: message.StopToolUse},
	))
	require.NoError(t, err)

	kinds := make([]string, 0, len(sink.events))
	for _, ev := range sink.events {
		kinds = append(kinds, EventKind(ev))
	}
	assert.Equal(t, []string{
		"text_appended",
		"tool_call_announced",
		"tool_call_argument_appended",
		"turn_complete",
	}, kinds)
}
