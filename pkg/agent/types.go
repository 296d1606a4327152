package agent

import (
	"errors"
	"time"
)

var (
	// ErrMaxTurnsExceeded reports that a single turn hit the provider
	// round budget. The conversation stays usable; the operator can
	// simply prompt again.
	ErrMaxTurnsExceeded = errors.New("maximum provider rounds exceeded")

	// ErrAborted reports that the turn was cancelled by Abort or by the
	// caller's context.
	ErrAborted = errors.New("turn aborted")

	// ErrAllProfilesFailed reports that no auth profile produced a
	// usable provider stream.
	ErrAllProfilesFailed = errors.New("all auth profiles failed")
)

const (
	DefaultMaxRounds        = 16
	DefaultMaxContinuations = 2
	DefaultMaxRetries       = 3
	DefaultMaxTokens        = 8192

	retryBaseDelay  = time.Second
	cooldownPerFail = time.Minute
)

// AuthProfile holds credentials for one provider account. Profiles are
// tried in priority order (lower first); repeated failures put a
// profile into a growing cooldown.
type AuthProfile struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	APIKey        string     `json:"api_key"`
	BaseURL       string     `json:"base_url,omitempty"`
	Priority      int        `json:"priority"`
	FailureCount  int        `json:"failure_count"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// TurnConfig shapes a single turn of the loop. Zero values fall back
// to the defaults above.
type TurnConfig struct {
	Model            string  `json:"model"`
	SystemPrompt     string  `json:"system_prompt,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	MaxRounds        int     `json:"max_rounds,omitempty"`
	MaxContinuations int     `json:"max_continuations,omitempty"`
	MaxRetries       int     `json:"max_retries,omitempty"`
}

func (c TurnConfig) withDefaults() TurnConfig {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.MaxContinuations <= 0 {
		c.MaxContinuations = DefaultMaxContinuations
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}
