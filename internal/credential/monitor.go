package credential

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// sessionKey is the keyring item holding the serialized session.
const sessionKey = "session"

// Session is the externally-issued credential plus the minimal identity
// needed to key per-user client state. The token is an opaque signed JWT;
// the client never verifies its signature, it only reads the embedded
// expiry.
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Store abstracts the durable credential location so the monitor can be
// tested without a system keyring.
type Store interface {
	Load() (string, error)
	Save(value string) error
	Clear() error
}

// KeyringStore keeps the session in the system keyring.
type KeyringStore struct{}

func (KeyringStore) Load() (string, error) { return Get(sessionKey) }
func (KeyringStore) Save(v string) error   { return Set(sessionKey, v) }
func (KeyringStore) Clear() error          { return Delete(sessionKey) }

// Monitor owns the session credential: it is the only component that
// reads, writes, or clears the durable credential store, and the only
// judge of credential validity. Invalidity is fatal to the session: the
// monitor clears the store, tears down the connection, and signals the
// logout navigation exactly once.
type Monitor struct {
	store  Store
	margin time.Duration
	log    *slog.Logger

	mu        sync.Mutex
	onLogout  func(reason string)
	teardown  func()
	loggedOut bool
}

// NewMonitor creates a Monitor over the given store. Credentials expiring
// within margin of now are already treated as invalid, so a connection is
// never attempted with a token about to lapse mid-handshake.
func NewMonitor(store Store, margin time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, margin: margin, log: logger}
}

// OnLogout registers the callback invoked after a forced logout (e.g. to
// navigate the UI to a login state). At most one callback is held.
func (m *Monitor) OnLogout(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = fn
}

// OnTeardown registers the hook that destroys the live connection during
// a forced logout.
func (m *Monitor) OnTeardown(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown = fn
}

// Current returns the stored session, or ErrNotFound when none exists.
// It does not judge validity; callers pair it with Valid.
func (m *Monitor) Current() (*Session, error) {
	raw, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parsing stored session: %w", err)
	}
	return &s, nil
}

// Save persists a freshly issued session and re-arms the logout latch.
func (m *Monitor) Save(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}
	if err := m.store.Save(string(data)); err != nil {
		return err
	}

	m.mu.Lock()
	m.loggedOut = false
	m.mu.Unlock()
	return nil
}

// Valid reports whether s carries a token whose embedded expiry is more
// than the safety margin in the future. An unparseable token, or one with
// no expiry claim, is invalid.
func (m *Monitor) Valid(s *Session) bool {
	if s == nil || s.Token == "" {
		return false
	}
	exp, err := TokenExpiry(s.Token)
	if err != nil {
		m.log.Warn("unreadable session token", "error", err)
		return false
	}
	return time.Until(exp) > m.margin
}

// ForceLogout clears the durable credential, tears down the connection,
// and fires the logout callback. Concurrent auth failures collapse into a
// single logout; the latch re-arms on the next Save.
func (m *Monitor) ForceLogout(reason string) {
	m.mu.Lock()
	if m.loggedOut {
		m.mu.Unlock()
		return
	}
	m.loggedOut = true
	teardown := m.teardown
	onLogout := m.onLogout
	m.mu.Unlock()

	m.log.Info("forcing logout", "reason", reason)

	if err := m.store.Clear(); err != nil {
		m.log.Warn("clearing stored session", "error", err)
	}
	if teardown != nil {
		teardown()
	}
	if onLogout != nil {
		onLogout(reason)
	}
}

// TokenExpiry extracts the exp claim from a JWT without verifying its
// signature. Verification is the server's job; the client only needs the
// embedded expiry timestamp.
func TokenExpiry(token string) (time.Time, error) {
	claims := &jwt.StandardClaims{}
	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing token: %w", err)
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return time.Unix(claims.ExpiresAt, 0), nil
}
