// Package agent drives the conversation loop: stream a provider round,
// dispatch any tool calls, feed results back, repeat until the model
// ends its turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prasetya/mika/internal/observability"
	"github.com/prasetya/mika/internal/tracing"
	"github.com/prasetya/mika/pkg/cmdqueue"
	"github.com/prasetya/mika/pkg/message"
	"github.com/prasetya/mika/pkg/provider"
	"github.com/prasetya/mika/pkg/session"
	"github.com/prasetya/mika/pkg/stream"
	"github.com/prasetya/mika/pkg/toolexec"
)

// ProviderFactory builds providers from auth profiles.
type ProviderFactory interface {
	NewProvider(profile AuthProfile) (provider.Provider, error)
}

type defaultProviderFactory struct{}

func (defaultProviderFactory) NewProvider(p AuthProfile) (provider.Provider, error) {
	return provider.New(provider.Config{
		Provider: p.Provider,
		APIKey:   p.APIKey,
		BaseURL:  p.BaseURL,
	})
}

// Runner orchestrates agent turns.
type Runner struct {
	store      *session.Store
	dispatcher *toolexec.Dispatcher
	queue      *cmdqueue.Queue
	factory    ProviderFactory
	logger     zerolog.Logger
	defaults   TurnConfig

	profiles []AuthProfile
	authMu   sync.RWMutex

	// Active turns by session ID, for abort.
	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex
}

// Config holds runner dependencies.
type Config struct {
	Store           *session.Store
	Dispatcher      *toolexec.Dispatcher
	Queue           *cmdqueue.Queue
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderFactory
	Logger          zerolog.Logger
	Defaults        TurnConfig
}

// NewRunner validates dependencies and builds a runner.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	factory := cfg.ProviderFactory
	if factory == nil {
		factory = defaultProviderFactory{}
	}

	return &Runner{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		queue:      cfg.Queue,
		factory:    factory,
		logger:     cfg.Logger,
		defaults:   cfg.Defaults,
		profiles:   cfg.AuthProfiles,
		activeRuns: make(map[string]context.CancelFunc),
	}, nil
}

// TurnResult summarizes one completed turn.
type TurnResult struct {
	SessionID string          `json:"session_id"`
	Message   message.Message `json:"message"`
	Rounds    int             `json:"rounds"`
	Usage     message.Usage   `json:"usage"`
	Aborted   bool            `json:"aborted,omitempty"`
}

// RunTurn executes one turn for the session: persist the user input,
// then alternate provider rounds and tool dispatch until the model
// stops. Turns for the same session are serialized through the queue;
// display events stream to sink as they happen (nil sink is valid).
func (r *Runner) RunTurn(ctx context.Context, sessionID, input string, sink stream.Sink) (TurnResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(input) == "" {
		return TurnResult{}, fmt.Errorf("input is required")
	}

	ctx = tracing.NewTurnContext(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"mika.agent",
		"agent.run_turn",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("session_id", sessionID).Logger()

	lane := "session-" + sessionID
	result, err := r.queue.EnqueueWithContext(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return r.executeTurn(taskCtx, sessionID, input, sink)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Turn failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if turn, ok := result.(TurnResult); ok {
			return turn, err
		}
		return TurnResult{SessionID: sessionID}, err
	}
	return result.(TurnResult), nil
}

// Abort cancels the session's running turn, if any.
func (r *Runner) Abort(sessionID string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[sessionID]
	if !exists {
		r.logger.Debug().Str("session_id", sessionID).Msg("No active turn to abort")
		return
	}
	r.logger.Info().Str("session_id", sessionID).Msg("Aborting turn")
	cancel()
	delete(r.activeRuns, sessionID)
}

// IsRunning reports whether the session has a turn in flight.
func (r *Runner) IsRunning(sessionID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	_, exists := r.activeRuns[sessionID]
	return exists
}

func (r *Runner) executeTurn(ctx context.Context, sessionID, input string, sink stream.Sink) (TurnResult, error) {
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("session_id", sessionID).Logger()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[sessionID] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, sessionID)
		r.runsMu.Unlock()
	}()

	sess, err := r.store.Load(execCtx, sessionID)
	if err != nil {
		return TurnResult{SessionID: sessionID}, fmt.Errorf("failed to load session: %w", err)
	}
	history := sess.Messages

	config := r.defaults.withDefaults()
	model := config.Model
	if model == "" {
		model = sess.Model
	}
	providerName := sess.Provider

	// A crash or abort can leave tool calls without results. Resolve
	// them with synthetic errors so the next provider round sees a
	// well-formed conversation.
	if history, err = r.resolveDanglingCalls(execCtx, sessionID, history, logger); err != nil {
		return TurnResult{SessionID: sessionID}, err
	}

	userMsg := message.NewUserMessage(input)
	if err := r.store.Append(execCtx, sessionID, userMsg); err != nil {
		return TurnResult{SessionID: sessionID}, fmt.Errorf("failed to persist user message: %w", err)
	}
	history = append(history, userMsg)

	var totalUsage message.Usage
	var lastAssistant message.Message
	continuations := 0

	finish := func(rounds int, success bool) {
		observability.RecordTurn(providerName, success, rounds, time.Since(start))
	}

	for round := 1; round <= config.MaxRounds; round++ {
		req := provider.Request{
			Model:        model,
			SystemPrompt: config.SystemPrompt,
			Messages:     history,
			Tools:        r.dispatcher.Specs(),
			MaxTokens:    config.MaxTokens,
			Temperature:  config.Temperature,
		}

		assistant, provName, err := r.streamWithFailover(execCtx, req, sink, config, logger)
		if provName != "" {
			providerName = provName
		}
		if err != nil {
			if execCtx.Err() != nil {
				finish(round-1, false)
				return TurnResult{SessionID: sessionID, Rounds: round - 1, Usage: totalUsage, Aborted: true}, ErrAborted
			}
			finish(round-1, false)
			return TurnResult{SessionID: sessionID, Rounds: round - 1, Usage: totalUsage}, err
		}

		totalUsage = totalUsage.Add(assistant.Usage)
		if err := r.store.Append(execCtx, sessionID, assistant); err != nil {
			finish(round, false)
			return TurnResult{SessionID: sessionID, Rounds: round, Usage: totalUsage}, fmt.Errorf("failed to persist assistant message: %w", err)
		}
		history = append(history, assistant)
		lastAssistant = assistant

		calls := assistant.ToolCalls()
		needsTools := len(calls) > 0 &&
			(assistant.StopReason == message.StopToolUse || assistant.StopReason == message.StopMaxTokens)

		if needsTools {
			results := r.dispatcher.DispatchAll(execCtx, calls)
			for _, res := range results {
				if sink != nil {
					sink.Publish(stream.ToolResultReady{CallID: res.CallID, Output: res.Output, IsError: res.IsError})
				}
			}
			toolMsg := message.NewToolMessage(results)
			if err := r.store.Append(execCtx, sessionID, toolMsg); err != nil {
				finish(round, false)
				return TurnResult{SessionID: sessionID, Rounds: round, Usage: totalUsage}, fmt.Errorf("failed to persist tool results: %w", err)
			}
			history = append(history, toolMsg)

			if execCtx.Err() != nil {
				finish(round, false)
				return TurnResult{SessionID: sessionID, Rounds: round, Usage: totalUsage, Aborted: true}, ErrAborted
			}
			continue
		}

		if assistant.StopReason == message.StopMaxTokens && continuations < config.MaxContinuations {
			continuations++
			logger.Info().Int("continuation", continuations).Msg("Continuing after max_tokens stop")
			continue
		}

		finish(round, true)
		return TurnResult{
			SessionID: sessionID,
			Message:   lastAssistant,
			Rounds:    round,
			Usage:     totalUsage,
		}, nil
	}

	finish(config.MaxRounds, false)
	logger.Warn().Int("rounds", config.MaxRounds).Msg("Turn hit provider round budget")
	return TurnResult{
		SessionID: sessionID,
		Message:   lastAssistant,
		Rounds:    config.MaxRounds,
		Usage:     totalUsage,
	}, ErrMaxTurnsExceeded
}

// resolveDanglingCalls closes out tool calls loaded from the session
// that never got a result.
func (r *Runner) resolveDanglingCalls(ctx context.Context, sessionID string, history []message.Message, logger zerolog.Logger) ([]message.Message, error) {
	unresolved := message.UnresolvedToolCalls(history)
	if len(unresolved) == 0 {
		return history, nil
	}

	logger.Warn().Int("count", len(unresolved)).Msg("Resolving dangling tool calls from a previous turn")

	results := make([]message.ToolResultBlock, 0, len(unresolved))
	for _, call := range unresolved {
		results = append(results, message.ToolResultBlock{
			CallID:  call.ID,
			Output:  "tool call was interrupted before a result was recorded",
			IsError: true,
		})
	}

	toolMsg := message.NewToolMessage(results)
	if err := r.store.Append(ctx, sessionID, toolMsg); err != nil {
		return nil, fmt.Errorf("failed to persist synthetic tool results: %w", err)
	}
	return append(history, toolMsg), nil
}

// streamWithFailover walks auth profiles in priority order, skipping
// profiles in cooldown, until one produces a complete assistant
// message.
func (r *Runner) streamWithFailover(ctx context.Context, req provider.Request, sink stream.Sink, config TurnConfig, logger zerolog.Logger) (message.Message, string, error) {
	profiles := r.snapshotProfiles()

	var lastErr error
	lastProvider := ""

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().Before(*profile.CooldownUntil) {
			observability.SetProviderCooldown(profile.ID, true)
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}
		observability.SetProviderCooldown(profile.ID, false)

		prov, err := r.factory.NewProvider(profile)
		if err != nil {
			logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			r.markProfileFailure(profile.ID)
			lastErr = err
			continue
		}
		lastProvider = prov.Name()

		msg, err := r.streamWithRetry(ctx, prov, req, sink, config, logger)
		if err == nil {
			r.markProfileSuccess(profile.ID)
			return msg, prov.Name(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return message.Message{}, prov.Name(), err
		}

		logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")
		r.markProfileFailure(profile.ID)

		// Permanent request errors won't get better on another account.
		if !provider.IsRetryable(err) && !errors.Is(err, stream.ErrStreamFailure) {
			return message.Message{}, prov.Name(), err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no auth profile available")
	}
	return message.Message{}, lastProvider, fmt.Errorf("%w: %v", ErrAllProfilesFailed, lastErr)
}

// streamWithRetry runs one provider round, retrying transient failures
// with exponential backoff.
func (r *Runner) streamWithRetry(ctx context.Context, prov provider.Provider, req provider.Request, sink stream.Sink, config TurnConfig, logger zerolog.Logger) (message.Message, error) {
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		msg, err := r.streamOnce(ctx, prov, req, sink)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if errors.Is(err, stream.ErrStreamFailure) {
			observability.RecordStreamFailure(prov.Name())
		}
		if ctx.Err() != nil {
			return message.Message{}, err
		}
		if !provider.IsRetryable(err) && !errors.Is(err, stream.ErrStreamFailure) {
			return message.Message{}, err
		}
		if attempt == config.MaxRetries-1 {
			break
		}

		delay := retryBaseDelay << attempt
		observability.RecordProviderRetry(prov.Name())
		logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying after provider error")

		select {
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return message.Message{}, fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

func (r *Runner) streamOnce(ctx context.Context, prov provider.Provider, req provider.Request, sink stream.Sink) (message.Message, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"mika.agent",
		"agent.stream",
		attribute.String("provider", prov.Name()),
	)
	defer span.End()

	deltas, err := prov.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.Message{}, err
	}

	msg, err := stream.NewAssembler(sink).Run(ctx, deltas)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (r *Runner) snapshotProfiles() []AuthProfile {
	r.authMu.RLock()
	profiles := make([]AuthProfile, len(r.profiles))
	copy(profiles, r.profiles)
	r.authMu.RUnlock()

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
	return profiles
}

func (r *Runner) markProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount = 0
			r.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(profileID, false)
			return
		}
	}
}

func (r *Runner) markProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount++
			until := time.Now().Add(time.Duration(r.profiles[i].FailureCount) * cooldownPerFail)
			r.profiles[i].CooldownUntil = &until
			observability.SetProviderCooldown(profileID, true)
			return
		}
	}
}
