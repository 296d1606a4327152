package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prasetya/mika/internal/config"
	"github.com/prasetya/mika/internal/logger"
	"github.com/prasetya/mika/internal/observability"
	"github.com/prasetya/mika/internal/tracing"
	"github.com/prasetya/mika/pkg/agent"
	"github.com/prasetya/mika/pkg/cmdqueue"
	"github.com/prasetya/mika/pkg/coretools"
	"github.com/prasetya/mika/pkg/session"
	"github.com/prasetya/mika/pkg/toolexec"
)

// app holds the wired runtime shared by the commands. Session-only
// commands leave runner nil.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *session.Store
	queue   *cmdqueue.Queue
	runner  *agent.Runner
	tracing bool
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = tracing.Shutdown(ctx)
		cancel()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}

// buildStore wires config, logging and the session store. Enough for
// the sessions subcommands.
func buildStore() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    false,
		Pretty:     false,
		Redact:     cfg.Logging.Redact,
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxAgeDays: cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.jsonl")); err != nil {
		lg.Warn().Err(err).Msg("Audit log unavailable, falling back to stderr")
	}

	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		lg.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	return &app{cfg: cfg, log: lg, store: store}, nil
}

// buildRunner wires the full runtime: store, tools, queue, agent loop.
func buildRunner() (*app, error) {
	a, err := buildStore()
	if err != nil {
		return nil, err
	}
	if err := a.cfg.Validate(); err != nil {
		a.Close()
		return nil, err
	}

	if a.cfg.Tracing.Enabled {
		if err := tracing.Setup(tracing.Options{
			ServiceName: "mika",
			Version:     version,
			SampleRatio: a.cfg.Tracing.SampleRatio,
		}); err != nil {
			a.log.Warn().Err(err).Msg("Tracing setup failed, continuing without span export")
		} else {
			a.tracing = true
		}
	}

	dispatcher := toolexec.New()
	dispatcher.SetMaxParallel(a.cfg.Tools.MaxParallel)
	if len(a.cfg.Tools.Policy.Allow) > 0 || len(a.cfg.Tools.Policy.Deny) > 0 {
		dispatcher.SetPolicy(&toolexec.ToolPolicy{
			Allow: a.cfg.Tools.Policy.Allow,
			Deny:  a.cfg.Tools.Policy.Deny,
		})
	}
	if err := coretools.Register(dispatcher, coretools.Options{WorkspaceRoot: a.cfg.WorkspaceRoot}); err != nil {
		a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	a.queue = cmdqueue.New()

	profiles := make([]agent.AuthProfile, 0, len(a.cfg.AI.Profiles))
	for _, p := range a.cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
		})
	}

	runner, err := agent.NewRunner(agent.Config{
		Store:        a.store,
		Dispatcher:   dispatcher,
		Queue:        a.queue,
		AuthProfiles: profiles,
		Logger:       a.log.Logger,
		Defaults: agent.TurnConfig{
			Model:            a.cfg.Model.Default,
			SystemPrompt:     a.cfg.Model.SystemPrompt,
			MaxTokens:        a.cfg.Model.MaxTokens,
			Temperature:      a.cfg.Model.Temperature,
			MaxRounds:        a.cfg.Model.MaxRounds,
			MaxContinuations: a.cfg.Model.MaxContinuations,
			MaxRetries:       a.cfg.Model.MaxRetries,
		},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init agent runner: %w", err)
	}
	a.runner = runner
	return a, nil
}

// defaultProvider picks the provider name of the highest-priority
// profile, for stamping new sessions.
func (a *app) defaultProvider() string {
	best := ""
	bestPriority := 0
	for i, p := range a.cfg.AI.Profiles {
		if i == 0 || p.Priority < bestPriority {
			best = p.Provider
			bestPriority = p.Priority
		}
	}
	return best
}
