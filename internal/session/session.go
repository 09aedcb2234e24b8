// Package session holds the bearer credential the messaging core consumes.
// The credential is issued and refreshed by the identity subsystem; this
// package only carries it, inspects its claims and broadcasts invalidation.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sahyam2023/dashboard-sub001/internal/events"
)

// Claims is the subset of the identity token the messaging core reads. The
// token is verified by the server; the client parses it unverified only to
// learn who it is acting as.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

type Session struct {
	bus *events.Bus

	mu        sync.RWMutex
	token     string
	userID    int64
	expiresAt time.Time
	invalid   bool
}

// New builds a session from a bearer token. An empty token yields a session
// with no credential; the connection manager stays Disconnected until SetToken.
func New(bus *events.Bus, token string) (*Session, error) {
	s := &Session{bus: bus}
	if token == "" {
		return s, nil
	}
	if err := s.SetToken(token); err != nil {
		return nil, err
	}
	return s, nil
}

// SetToken replaces the credential, e.g. after re-authentication upstream.
func (s *Session) SetToken(token string) error {
	claims := &Claims{}
	// Signature verification belongs to the server side; ParseUnverified is
	// enough to read user_id and expiry.
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.userID = claims.UserID
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	} else {
		s.expiresAt = time.Time{}
	}
	s.invalid = false
	s.mu.Unlock()
	return nil
}

// Token returns the current bearer credential, empty if absent or invalidated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.invalid {
		return ""
	}
	return s.token
}

func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Invalidate marks the credential rejected and announces it once. Repeated
// rejections from concurrent requests collapse into a single signal.
func (s *Session) Invalidate() {
	s.mu.Lock()
	already := s.invalid
	s.invalid = true
	s.mu.Unlock()
	if !already {
		s.bus.Publish(events.SessionInvalid{})
	}
}

func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && !s.invalid
}
