package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prasetya/mika/internal/observability"
	"github.com/prasetya/mika/pkg/session"
)

// secretHeader carries the shared secret on the upgrade request.
const secretHeader = "X-Gateway-Secret"

// Config holds gateway server configuration.
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Runner       TurnRunner
	Store        *session.Store
	Logger       zerolog.Logger

	// DefaultModel and DefaultProvider stamp sessions created for
	// clients that connect without one.
	DefaultModel    string
	DefaultProvider string
}

// Server accepts websocket clients and bridges them onto sessions.
type Server struct {
	host         string
	port         int
	sharedSecret string
	runner       TurnRunner
	store        *session.Store
	logger       zerolog.Logger
	model        string
	provider     string
	upgrader     websocket.Upgrader

	listener net.Listener
	server   *http.Server

	mu    sync.Mutex
	conns map[*clientConn]struct{}
}

// NewServer validates the config and builds a server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	return &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		runner:       cfg.Runner,
		store:        cfg.Store,
		logger:       cfg.Logger,
		model:        cfg.DefaultModel,
		provider:     cfg.DefaultProvider,
		conns:        make(map[*clientConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("bind gateway listener: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: mux}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Gateway server listening")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address, usable after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes client connections and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Gateway server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Gateway auth rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		if _, err := s.store.Load(r.Context(), sessionID); err != nil {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
	} else {
		sess, err := s.store.Create(r.Context(), s.model, s.provider)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to create gateway session")
			http.Error(w, "session create failed", http.StatusInternalServerError)
			return
		}
		sessionID = sess.ID
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	conn := newClientConn(ws, sessionID, s.runner, s.logger)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.logger.Info().Str("session_id", sessionID).Str("remote", r.RemoteAddr).Msg("Gateway client connected")

	go func() {
		conn.run()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.logger.Info().Str("session_id", sessionID).Msg("Gateway client disconnected")
	}()
}

func (s *Server) authorized(r *http.Request) bool {
	got := r.Header.Get(secretHeader)
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.sharedSecret)) == 1
}
