package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prasetya/mika/internal/observability"
	"github.com/prasetya/mika/internal/tracing"
	"github.com/prasetya/mika/pkg/message"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 8

	archivedPrefix = "archived-"
)

var (
	// ErrSessionNotFound is returned when loading a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Header is the first line of every session file.
type Header struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a fully loaded conversation.
type Session struct {
	Header
	Messages []message.Message
}

// Summary is the indexed metadata for one session.
type Summary struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Archived     bool      `json:"archived"`
}

// Store manages session files under a single directory, one JSONL file
// per session: a header line followed by one frozen message per line.
type Store struct {
	dir        string
	index      *Index
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates a Store rooted at dir (default ~/.mika/sessions) and
// opens the summary index, rebuilding it from files when missing.
func NewStore(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".mika", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	index, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session index: %w", err)
	}
	s.index = index

	if empty, err := index.Empty(); err == nil && empty {
		if err := s.RebuildIndex(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to rebuild session index")
		}
	}

	log.Info().Str("dir", dir).Msg("Session store initialized")
	s.updateActiveSessionsMetric()

	return s, nil
}

// Dir returns the directory the store writes under.
func (s *Store) Dir() string {
	return s.dir
}

func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

func (s *Store) updateActiveSessionsMetric() {
	summaries, err := s.index.List()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(summaries))
}

func (s *Store) writeLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[id]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[id] = lock
	return lock
}

func (s *Store) releaseWriteLock(id string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, id)
}

// Create starts a new session for the given model and provider and
// writes its header line.
func (s *Store) Create(ctx context.Context, model, provider string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	id, err := gonanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"mika.session",
		"session.create",
		attribute.String("session_id", id),
		attribute.String("model", model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	header := Header{
		ID:        id,
		Model:     model,
		Provider:  provider,
		CreatedAt: time.Now().UTC(),
	}

	lock := s.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session header: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to write session header: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync session file: %w", err)
	}

	if err := s.index.Upsert(Summary{
		ID:        id,
		Model:     model,
		Provider:  provider,
		CreatedAt: header.CreatedAt,
		UpdatedAt: header.CreatedAt,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to index new session")
	}
	s.updateActiveSessionsMetric()

	logger.Info().Str("model", model).Str("provider", provider).Msg("Session created")
	return &Session{Header: header}, nil
}

// Append durably appends one frozen message to a session. The write is
// serialized per session and fsynced before returning.
func (s *Store) Append(ctx context.Context, id string, msg message.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"mika.session",
		"session.append",
		attribute.String("session_id", id),
		attribute.String("role", string(msg.Role)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := validateSessionID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}

	lock := s.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.path(id)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	file, err := os.OpenFile(s.path(id), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	if err := s.index.Touch(id, time.Now().UTC()); err != nil {
		logger.Warn().Err(err).Msg("Failed to update session index")
	}

	logger.Debug().Str("role", string(msg.Role)).Msg("Message appended")
	return nil
}

// Load reads a full session. Unparsable lines, including a trailing
// partial line left by a crash, are skipped with a warning.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"mika.session",
		"session.load",
		attribute.String("session_id", id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := validateSessionID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	sess := &Session{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		if lineNum == 1 {
			if err := json.Unmarshal([]byte(line), &sess.Header); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("failed to parse session header: %w", err)
			}
			continue
		}

		var msg message.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if msg.Role == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid message, skipping")
			continue
		}
		sess.Messages = append(sess.Messages, msg)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().Int("messages", len(sess.Messages)).Msg("Session loaded")
	return sess, nil
}

// List returns summaries for all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	return s.index.List()
}

// Delete removes a session file and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"mika.session",
		"session.delete",
		attribute.String("session_id", id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := validateSessionID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	lock := s.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	if err := s.index.Delete(id); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove session from index")
	}
	s.releaseWriteLock(id)
	s.updateActiveSessionsMetric()

	logger.Info().Msg("Session deleted")
	return nil
}

// Archive renames a session with the archived prefix so maintenance can
// later delete it past the retention age.
func (s *Store) Archive(ctx context.Context, id string) error {
	if err := validateSessionID(id); err != nil {
		return err
	}
	if strings.HasPrefix(id, archivedPrefix) {
		return nil
	}

	lock := s.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	archivedID := archivedPrefix + id
	if err := os.Rename(s.path(id), s.path(archivedID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return fmt.Errorf("failed to archive session: %w", err)
	}

	if err := s.index.Rename(id, archivedID); err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("Failed to update index for archived session")
	}
	s.releaseWriteLock(id)

	log.Info().Str("session_id", id).Msg("Session archived")
	return nil
}

// IsArchived reports whether a session ID carries the archived prefix.
func IsArchived(id string) bool {
	return strings.HasPrefix(id, archivedPrefix)
}

// Rewrite atomically replaces a session's messages. fn receives the
// messages currently on disk and returns the replacement list; the
// per-session write lock is held from the read through the rename, so
// an Append that already returned success cannot be erased by a stale
// snapshot. fn returning keep=false leaves the file untouched.
func (s *Store) Rewrite(ctx context.Context, id string, fn func(current []message.Message) (replacement []message.Message, keep bool)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateSessionID(id); err != nil {
		return err
	}

	lock := s.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Load(ctx, id)
	if err != nil {
		return err
	}

	messages, keep := fn(sess.Messages)
	if !keep {
		return nil
	}

	tempPath := s.path(id) + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	write := func(v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = file.Write(append(data, '\n'))
		return err
	}

	if err := write(sess.Header); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, msg := range messages {
		if err := write(msg); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, s.path(id)); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().Str("session_id", id).Int("messages", len(messages)).Msg("Session rewritten")
	return nil
}

// Replace atomically rewrites a session file with the given messages,
// keeping the existing header. Used for repair; callers that derive
// the list from the current contents should use Rewrite instead.
func (s *Store) Replace(ctx context.Context, id string, messages []message.Message) error {
	return s.Rewrite(ctx, id, func([]message.Message) ([]message.Message, bool) {
		return messages, true
	})
}

// RebuildIndex scans session files and repopulates the summary index.
func (s *Store) RebuildIndex(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read sessions directory: %w", err)
	}

	rebuilt := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".jsonl")

		sess, err := s.Load(ctx, id)
		if err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Skipping unreadable session during rebuild")
			continue
		}

		info, err := entry.Info()
		updatedAt := time.Now().UTC()
		if err == nil {
			updatedAt = info.ModTime().UTC()
		}

		if err := s.index.Upsert(Summary{
			ID:           id,
			Model:        sess.Model,
			Provider:     sess.Provider,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    updatedAt,
			MessageCount: len(sess.Messages),
			Archived:     IsArchived(id),
		}); err != nil {
			return fmt.Errorf("failed to index session %s: %w", id, err)
		}
		rebuilt++
	}

	log.Info().Int("sessions", rebuilt).Msg("Session index rebuilt")
	return nil
}

// Close closes the index and clears the write locks.
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()
	return s.index.Close()
}
