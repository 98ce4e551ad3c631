package credential

import (
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	value string
	set   bool
}

func (s *memStore) Load() (string, error) {
	if !s.set {
		return "", ErrNotFound
	}
	return s.value, nil
}

func (s *memStore) Save(v string) error {
	s.value, s.set = v, true
	return nil
}

func (s *memStore) Clear() error {
	s.value, s.set = "", false
	return nil
}

// signedToken builds an HS256 token expiring at exp.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := &jwt.StandardClaims{
		Subject:   "u1",
		ExpiresAt: exp.Unix(),
		IssuedAt:  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return ss
}

func TestSaveAndCurrent(t *testing.T) {
	m := NewMonitor(&memStore{}, 3*time.Second, nil)

	if _, err := m.Current(); err != ErrNotFound {
		t.Fatalf("Current on empty store err = %v, want ErrNotFound", err)
	}

	want := Session{Token: "tok", UserID: "u1", Name: "Amina", Role: "student"}
	if err := m.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if *got != want {
		t.Errorf("Current = %+v, want %+v", got, want)
	}
}

func TestValid(t *testing.T) {
	m := NewMonitor(&memStore{}, 3*time.Second, nil)

	tests := []struct {
		name    string
		session *Session
		want    bool
	}{
		{"nil session", nil, false},
		{"empty token", &Session{UserID: "u1"}, false},
		{"garbage token", &Session{Token: "not-a-jwt"}, false},
		{
			"expires in an hour",
			&Session{Token: signedToken(t, time.Now().Add(time.Hour))},
			true,
		},
		{
			"already expired",
			&Session{Token: signedToken(t, time.Now().Add(-time.Minute))},
			false,
		},
		{
			// Inside the 3s safety margin: still invalid even though the
			// raw expiry is in the future.
			"expires in two seconds",
			&Session{Token: signedToken(t, time.Now().Add(2*time.Second))},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Valid(tt.session); got != tt.want {
				t.Errorf("Valid = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForceLogoutClearsStoreAndFiresHooks(t *testing.T) {
	store := &memStore{}
	m := NewMonitor(store, 3*time.Second, nil)

	if err := m.Save(Session{Token: "tok", UserID: "u1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var tornDown int
	var reasons []string
	m.OnTeardown(func() { tornDown++ })
	m.OnLogout(func(reason string) { reasons = append(reasons, reason) })

	m.ForceLogout("credential expired")

	if store.set {
		t.Error("ForceLogout did not clear the stored session")
	}
	if tornDown != 1 {
		t.Errorf("teardown ran %d times, want 1", tornDown)
	}
	if len(reasons) != 1 || reasons[0] != "credential expired" {
		t.Errorf("logout callbacks = %v, want one %q", reasons, "credential expired")
	}
}

func TestForceLogoutLatchesUntilNextSave(t *testing.T) {
	store := &memStore{}
	m := NewMonitor(store, 3*time.Second, nil)
	_ = m.Save(Session{Token: "tok", UserID: "u1"})

	var count int
	m.OnLogout(func(string) { count++ })

	// Concurrent auth failures all report; only the first acts.
	m.ForceLogout("rejected by transport")
	m.ForceLogout("rejected by transport")
	m.ForceLogout("expired")

	if count != 1 {
		t.Fatalf("logout fired %d times, want 1", count)
	}

	// A fresh login re-arms the latch.
	_ = m.Save(Session{Token: "tok2", UserID: "u1"})
	m.ForceLogout("expired again")

	if count != 2 {
		t.Errorf("logout fired %d times after re-login, want 2", count)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	got, err := TokenExpiry(signedToken(t, exp))
	if err != nil {
		t.Fatalf("TokenExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("TokenExpiry = %v, want %v", got, exp)
	}

	if _, err := TokenExpiry("garbage"); err == nil {
		t.Error("TokenExpiry accepted a malformed token")
	}
}
