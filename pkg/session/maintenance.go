package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/prasetya/mika/pkg/message"
)

const (
	DefaultRetentionAge = 7 * 24 * time.Hour
	DefaultMaxMessages  = 500
	DefaultSchedule     = "@hourly"
)

// Maintenance runs scheduled housekeeping over the store: oversized
// sessions are pruned to their most recent messages, and archived
// sessions past the retention age are deleted.
type Maintenance struct {
	store        *Store
	retentionAge time.Duration
	maxMessages  int
	schedule     string
	cron         *cron.Cron
	entryID      cron.EntryID
}

// NewMaintenance creates a maintenance runner with defaults for any
// zero-valued option.
func NewMaintenance(store *Store, retentionAge time.Duration, maxMessages int, schedule string) *Maintenance {
	if retentionAge <= 0 {
		retentionAge = DefaultRetentionAge
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Maintenance{
		store:        store,
		retentionAge: retentionAge,
		maxMessages:  maxMessages,
		schedule:     schedule,
	}
}

// Start schedules the maintenance job and runs one pass immediately.
func (m *Maintenance) Start() error {
	if m.cron != nil {
		return fmt.Errorf("maintenance is already running")
	}

	m.cron = cron.New()
	entryID, err := m.cron.AddFunc(m.schedule, func() {
		if err := m.RunOnce(context.Background()); err != nil {
			log.Error().Err(err).Msg("Session maintenance pass failed")
		}
	})
	if err != nil {
		m.cron = nil
		return fmt.Errorf("invalid maintenance schedule %q: %w", m.schedule, err)
	}
	m.entryID = entryID
	m.cron.Start()

	log.Info().
		Str("schedule", m.schedule).
		Dur("retention_age", m.retentionAge).
		Int("max_messages", m.maxMessages).
		Msg("Session maintenance started")

	go func() {
		if err := m.RunOnce(context.Background()); err != nil {
			log.Error().Err(err).Msg("Initial session maintenance pass failed")
		}
	}()

	return nil
}

// Stop cancels the schedule and waits for a running pass to finish.
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.cron = nil
	log.Info().Msg("Session maintenance stopped")
}

// RunOnce executes a single maintenance pass.
func (m *Maintenance) RunOnce(ctx context.Context) error {
	summaries, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, summary := range summaries {
		if err := m.pruneSession(ctx, summary); err != nil {
			log.Warn().Str("session_id", summary.ID).Err(err).Msg("Failed to prune session")
		}

		if !summary.Archived {
			continue
		}
		if age := now.Sub(summary.UpdatedAt); age >= m.retentionAge {
			if err := m.store.Delete(ctx, summary.ID); err != nil {
				log.Error().Str("session_id", summary.ID).Err(err).Msg("Failed to delete expired session")
				continue
			}
			deleted++
			log.Debug().Str("session_id", summary.ID).Dur("age", age).Msg("Expired session deleted")
		}
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up expired sessions")
	}
	return nil
}

func (m *Maintenance) pruneSession(ctx context.Context, summary Summary) error {
	if summary.MessageCount <= m.maxMessages {
		return nil
	}

	// The prune decision is made inside the store's write lock so a
	// turn appending concurrently with this pass cannot be lost.
	from, kept := 0, 0
	err := m.store.Rewrite(ctx, summary.ID, func(current []message.Message) ([]message.Message, bool) {
		from = len(current)
		if from <= m.maxMessages {
			return nil, false
		}
		pruned := current[from-m.maxMessages:]
		kept = len(pruned)
		return pruned, true
	})
	if err != nil {
		return err
	}
	if kept == 0 {
		return nil
	}

	if err := m.store.index.Upsert(Summary{
		ID:           summary.ID,
		Model:        summary.Model,
		Provider:     summary.Provider,
		CreatedAt:    summary.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
		MessageCount: kept,
		Archived:     summary.Archived,
	}); err != nil {
		return err
	}

	log.Debug().
		Str("session_id", summary.ID).
		Int("from_messages", from).
		Int("to_messages", kept).
		Msg("Session pruned")
	return nil
}
