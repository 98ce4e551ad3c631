// Package conn owns the single persistent websocket connection per
// session: dialing it with the current credential, keeping it alive, and
// tearing it down when the credential changes or is rejected.
package conn

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edupulse/edupulse/internal/model"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Conn is one live connection. Inbound envelopes are delivered in order
// on Events; the channel closes when the connection dies.
type Conn struct {
	ws    *websocket.Conn
	token string

	events chan model.Envelope
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	onAuthFailure func(reason string)
	log           *slog.Logger
}

// outbound is the wire form of a client-emitted event.
type outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

func newConn(ws *websocket.Conn, token string, onAuthFailure func(string), logger *slog.Logger) *Conn {
	c := &Conn{
		ws:            ws,
		token:         token,
		events:        make(chan model.Envelope, 64),
		done:          make(chan struct{}),
		onAuthFailure: onAuthFailure,
		log:           logger,
	}
	go c.readLoop()
	go c.pingLoop()
	return c
}

// Events returns the in-order stream of inbound envelopes. The channel is
// closed when the connection is lost or closed.
func (c *Conn) Events() <-chan model.Envelope {
	return c.events
}

// Send emits one event to the server.
func (c *Conn) Send(event string, payload any) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(outbound{Event: event, Payload: payload}); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

// Alive reports whether the connection has not yet been closed or lost.
func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// readLoop delivers inbound envelopes until the connection dies. A close
// frame carrying a policy violation, or an explicit auth:error event, is
// the transport's way of rejecting the credential mid-session; both route
// to the auth failure handler.
func (c *Conn) readLoop() {
	defer close(c.events)
	defer c.Close()

	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		var env model.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
				c.log.Info("connection rejected by transport", "reason", ce.Text)
				if c.onAuthFailure != nil {
					c.onAuthFailure(ce.Text)
				}
				return
			}
			if c.Alive() {
				c.log.Warn("connection lost", "error", err)
			}
			return
		}

		if env.Event == model.EventAuthError {
			reason := authErrorReason(env.Payload)
			c.log.Info("credential rejected during session", "reason", reason)
			if c.onAuthFailure != nil {
				c.onAuthFailure(reason)
			}
			return
		}

		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

// pingLoop keeps the connection alive until it is closed.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// authErrorReason pulls a readable reason out of an auth:error payload.
func authErrorReason(payload json.RawMessage) string {
	var p struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &p); err == nil {
		if p.Reason != "" {
			return p.Reason
		}
		if p.Message != "" {
			return p.Message
		}
	}
	return "credential rejected"
}
