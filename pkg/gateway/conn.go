package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prasetya/mika/pkg/agent"
	"github.com/prasetya/mika/pkg/stream"
)

const (
	writeTimeout   = 10 * time.Second
	sendBufferSize = 256
)

// clientConn drives one websocket client. All writes go through a
// single writer goroutine; the reader loop stays free for abort frames
// while a turn runs in the background.
type clientConn struct {
	ws        *websocket.Conn
	sessionID string
	runner    TurnRunner
	logger    zerolog.Logger

	send       chan ServerFrame
	turnActive atomic.Bool
	turnWG     sync.WaitGroup
	closeOnce  sync.Once
	done       chan struct{}
}

func newClientConn(ws *websocket.Conn, sessionID string, runner TurnRunner, logger zerolog.Logger) *clientConn {
	return &clientConn{
		ws:        ws,
		sessionID: sessionID,
		runner:    runner,
		logger:    logger.With().Str("session_id", sessionID).Logger(),
		send:      make(chan ServerFrame, sendBufferSize),
		done:      make(chan struct{}),
	}
}

// run blocks until the client disconnects.
func (c *clientConn) run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.enqueue(newFrame("session", SessionData{SessionID: c.sessionID}))
	c.readLoop()

	// The client is gone; stop any in-flight turn. The session log
	// keeps whatever the turn persisted before the abort.
	if c.turnActive.Load() {
		c.runner.Abort(c.sessionID)
	}
	c.turnWG.Wait()

	c.close()
	wg.Wait()
}

// close tears the connection down. Safe to call more than once.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *clientConn) writePump() {
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debug().Err(err).Msg("Gateway write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue queues a frame for the writer. Frames are dropped when the
// client cannot keep up; the session log stays authoritative.
func (c *clientConn) enqueue(frame ServerFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.Warn().Str("type", frame.Type).Msg("Gateway send buffer full, dropping frame")
	}
}

func (c *clientConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(newFrame("error", ErrorData{Message: "malformed frame"}))
			continue
		}

		switch frame.Type {
		case "prompt":
			if frame.Text == "" {
				c.enqueue(newFrame("error", ErrorData{Message: "prompt text is required"}))
				continue
			}
			if !c.turnActive.CompareAndSwap(false, true) {
				c.enqueue(newFrame("error", ErrorData{Message: "a turn is already running"}))
				continue
			}
			c.turnWG.Add(1)
			go c.runTurn(frame.Text)
		case "abort":
			c.runner.Abort(c.sessionID)
		default:
			c.enqueue(newFrame("error", ErrorData{Message: "unknown frame type: " + frame.Type}))
		}
	}
}

// runTurn executes one turn, forwarding display events as frames.
func (c *clientConn) runTurn(prompt string) {
	defer c.turnWG.Done()
	defer c.turnActive.Store(false)

	sink := stream.SinkFunc(func(ev stream.DisplayEvent) {
		c.enqueue(newFrame(stream.EventKind(ev), ev))
	})
	result, err := c.runner.RunTurn(context.Background(), c.sessionID, prompt, sink)
	switch {
	case err == nil,
		errors.Is(err, agent.ErrMaxTurnsExceeded),
		errors.Is(err, agent.ErrAborted):
		c.enqueue(newFrame("turn_result", result))
	default:
		c.logger.Error().Err(err).Msg("Gateway turn failed")
		c.enqueue(newFrame("error", ErrorData{Message: err.Error()}))
	}
}
