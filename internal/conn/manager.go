package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edupulse/edupulse/internal/credential"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// ErrNoCredential is returned by Get when no valid session credential
// exists. The caller cannot connect until a fresh login occurs.
var ErrNoCredential = errors.New("no valid session credential")

// Manager owns connection lifecycle. Exactly one Conn exists per manager:
// concurrent Get callers observe the same instance, and the connection is
// destroyed and recreated whenever the credential changes or is judged
// invalid.
type Manager struct {
	wsURL  string
	creds  *credential.Monitor
	dialer *websocket.Dialer
	log    *slog.Logger

	mu  sync.Mutex
	cur *Conn
}

// NewManager creates a Manager dialing wsURL. Credential validity is the
// monitor's judgement; the manager only ever reacts to it.
func NewManager(wsURL string, creds *credential.Monitor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		wsURL:  wsURL,
		creds:  creds,
		dialer: websocket.DefaultDialer,
		log:    logger,
	}
}

// Get returns the live connection, creating it if needed. A credential
// that is present but no longer valid triggers a forced logout and
// ErrNoCredential; a live connection built with a stale credential is
// torn down and replaced.
func (m *Manager) Get(ctx context.Context) (*Conn, error) {
	sess, err := m.creds.Current()
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if !m.creds.Valid(sess) {
		m.creds.ForceLogout("session credential expired")
		return nil, ErrNoCredential
	}

	m.mu.Lock()

	if m.cur != nil {
		if m.cur.token == sess.Token && m.cur.Alive() {
			c := m.cur
			m.mu.Unlock()
			return c, nil
		}
		m.cur.Close()
		m.cur = nil
	}

	c, logoutReason, err := m.dial(ctx)
	if err == nil {
		m.cur = c
	}
	m.mu.Unlock()

	// Forced logout runs teardown hooks that re-enter Close, so it must
	// fire after the mutex is released.
	if logoutReason != "" {
		m.creds.ForceLogout(logoutReason)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close tears down the live connection, if any. The mutex is held across
// the dial backoff loop, so Close can block until an in-flight Get finishes
// dialing or its context is cancelled.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.cur.Close()
		m.cur = nil
	}
}

// dial connects with bounded backoff. The credential is re-read from the
// monitor on every attempt, since it can be refreshed out-of-band between
// attempts; an attempt rejected outright as unauthorized is fatal to the
// session rather than retried. dial runs under m.mu, so instead of forcing
// the logout itself it reports the reason for the caller to fire unlocked.
func (m *Manager) dial(ctx context.Context) (*Conn, string, error) {
	delay := reconnectBaseDelay
	for {
		sess, err := m.creds.Current()
		if err != nil || !m.creds.Valid(sess) {
			if err == nil {
				return nil, "session credential expired", ErrNoCredential
			}
			return nil, "", ErrNoCredential
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+sess.Token)

		ws, resp, err := m.dialer.DialContext(ctx, m.wsURL, header)
		if err == nil {
			m.log.Info("connected", "url", m.wsURL)
			onAuthFailure := func(reason string) {
				m.creds.ForceLogout(reason)
			}
			return newConn(ws, sess.Token, onAuthFailure, m.log), "", nil
		}

		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, "credential rejected by transport", ErrNoCredential
		}

		m.log.Warn("dial failed", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}
