package ecourts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// defaultSessionTTL bounds a session's lifetime when the upstream token
// carries no usable exp claim.
const defaultSessionTTL = 20 * time.Minute

// Session is the short-lived authentication context for the encrypted
// protocol. The token is opaque to us beyond its expiry claim.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session can still be attached to requests.
// A small margin avoids racing the upstream's own expiry check.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Add(30*time.Second).Before(s.ExpiresAt)
}

// SessionManager owns the session lifecycle for one protocol backend. All
// concurrent callers share one in-flight authentication: the upstream never
// sees parallel token requests from a single deployment.
type SessionManager struct {
	http      *http.Client
	authURL   string
	uid       string
	version   string
	clock     func() time.Time
	onRefresh func()

	mu      sync.Mutex
	current *Session

	group singleflight.Group
}

// NewSessionManager builds a manager authenticating against authURL with the
// given device UID.
func NewSessionManager(client *http.Client, authURL, uid string) *SessionManager {
	if client == nil {
		client = http.DefaultClient
	}
	return &SessionManager{
		http:    client,
		authURL: authURL,
		uid:     uid,
		version: "3.0",
		clock:   time.Now,
	}
}

// Current returns a valid session, authenticating if none is held. Concurrent
// callers with an expired session block on a single shared authentication.
func (m *SessionManager) Current(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.current.Valid(m.clock()) {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()
	return m.refresh(ctx)
}

// OnRefresh registers a hook invoked after every successful authentication,
// typically a metrics counter increment.
func (m *SessionManager) OnRefresh(fn func()) {
	m.onRefresh = fn
}

// Invalidate discards stale if it is still the held session. Used when a
// decryption failure signals implicit expiry.
func (m *SessionManager) Invalidate(stale *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == stale {
		m.current = nil
	}
}

func (m *SessionManager) refresh(ctx context.Context) (*Session, error) {
	v, err, _ := m.group.Do("auth", func() (any, error) {
		// Re-check under the flight: a racing caller may have refreshed
		// between our validity check and joining the group.
		m.mu.Lock()
		if m.current.Valid(m.clock()) {
			s := m.current
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		s, err := m.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.current = s
		m.mu.Unlock()
		if m.onRefresh != nil {
			m.onRefresh()
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// authenticate performs the app-release handshake: an encrypted request
// carrying the device UID and app version, answered with the session token.
func (m *SessionManager) authenticate(ctx context.Context) (*Session, error) {
	params, err := encodeRequest(map[string]string{"uid": m.uid, "version": m.version})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.authURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.URL.RawQuery = url.Values{"params": {params}}.Encode()

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth request: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	plaintext, err := decodeResponse(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal auth response: %w", err)
	}
	if payload.Token == "" {
		return nil, fmt.Errorf("auth response carried no token")
	}

	return &Session{
		Token:     payload.Token,
		ExpiresAt: tokenExpiry(payload.Token, m.clock()),
	}, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is the upstream's to verify, we only need its lifetime. Tokens with no
// readable claim get the default TTL.
func tokenExpiry(token string, now time.Time) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return now.Add(defaultSessionTTL)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return now.Add(defaultSessionTTL)
	}
	return exp.Time
}
