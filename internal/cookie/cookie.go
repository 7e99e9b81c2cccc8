// Package cookie provides signed cookie containers.
//
// A container is a small key/value map carried by the browser. The map is
// encoded as an HS256 JWT so the server can detect tampering without storing
// anything itself.
package cookie

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Session is the decoded contents of one signed cookie.
type Session struct {
	data map[string]json.RawMessage
}

// NewSession returns an empty container.
func NewSession() *Session {
	return &Session{data: make(map[string]json.RawMessage)}
}

// Has reports whether key is present.
func (s *Session) Has(key string) bool {
	_, ok := s.data[key]
	return ok
}

// Get decodes the value stored under key into dst.
// It returns false when the key is absent.
func (s *Session) Get(key string, dst any) (bool, error) {
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("failed to decode cookie value %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Session) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cookie value %q: %w", key, err)
	}
	s.data[key] = raw
	return nil
}

// Unset removes key.
func (s *Session) Unset(key string) {
	delete(s.data, key)
}

// Len returns the number of stored keys.
func (s *Session) Len() int {
	return len(s.data)
}

func (s *Session) clone() map[string]json.RawMessage {
	return maps.Clone(s.data)
}

// Store reads and writes one named cookie container. Implementations return
// complete Set-Cookie header values so callers can merge them into any response.
type Store interface {
	// GetSession decodes the container from a Cookie request header. A missing,
	// expired or tampered cookie yields an empty container.
	GetSession(cookieHeader string) (*Session, error)

	// CommitSession encodes the container into a Set-Cookie header value.
	CommitSession(sess *Session, opts ...CommitOption) (string, error)

	// DestroySession returns a Set-Cookie header value that removes the cookie.
	DestroySession(sess *Session) (string, error)
}

type commitOptions struct {
	expires time.Time
}

// CommitOption customises a single commit.
type CommitOption func(*commitOptions)

// WithExpires makes the cookie persistent until t. Without it the cookie uses
// the store's max-age, or lives for the browser session when none is set.
func WithExpires(t time.Time) CommitOption {
	return func(o *commitOptions) {
		o.expires = t
	}
}
