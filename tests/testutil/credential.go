package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/edupulse/edupulse/internal/credential"
)

// MemCredentialStore is an in-memory credential.Store for tests.
type MemCredentialStore struct {
	mu    sync.Mutex
	value string
	set   bool
}

func (s *MemCredentialStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return "", credential.ErrNotFound
	}
	return s.value, nil
}

func (s *MemCredentialStore) Save(v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.set = v, true
	return nil
}

func (s *MemCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.set = "", false
	return nil
}

// Empty reports whether the store holds no credential.
func (s *MemCredentialStore) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.set
}

// SignedToken builds an HS256 JWT expiring at exp.
func SignedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.StandardClaims{
		Subject:   "u1",
		ExpiresAt: exp.Unix(),
	})
	ss, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return ss
}
