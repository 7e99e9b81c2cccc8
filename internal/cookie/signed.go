package cookie

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

// Config configures a SignedStore.
type Config struct {
	// Name is the cookie name.
	Name string

	// Secrets sign and verify the cookie. The first secret signs; all of them
	// verify, which allows rotation.
	Secrets [][]byte

	// Path defaults to "/".
	Path string

	// MaxAge bounds the lifetime of every commit. Zero means a browser-session
	// cookie unless WithExpires is passed.
	MaxAge time.Duration

	// Secure sets the Secure attribute; enable it in production.
	Secure bool
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("cookie name is required")
	}
	if len(c.Secrets) == 0 {
		return errors.New("at least one cookie secret is required")
	}
	for i, secret := range c.Secrets {
		if len(secret) < MinSecretLength {
			return fmt.Errorf("cookie secret %d must be at least %d bytes", i, MinSecretLength)
		}
	}
	return nil
}

// SignedStore implements Store with HMAC-SHA256 signed JWT values.
// Cookies are always HttpOnly and SameSite=Lax.
type SignedStore struct {
	cfg Config
	now func() time.Time
}

var _ Store = (*SignedStore)(nil)

// NewSignedStore creates a signed cookie store.
func NewSignedStore(cfg Config) (*SignedStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &SignedStore{cfg: cfg, now: time.Now}, nil
}

// Name returns the cookie name.
func (s *SignedStore) Name() string {
	return s.cfg.Name
}

type claims struct {
	Data map[string]json.RawMessage `json:"data"`
	jwt.RegisteredClaims
}

// GetSession decodes the container from a Cookie request header.
func (s *SignedStore) GetSession(cookieHeader string) (*Session, error) {
	sess := NewSession()
	if cookieHeader == "" {
		return sess, nil
	}

	cookies, err := http.ParseCookie(cookieHeader)
	if err != nil {
		log.Debug().Err(err).Str("cookie", s.cfg.Name).Msg("Malformed cookie header")
		return sess, nil
	}

	for _, c := range cookies {
		if c.Name != s.cfg.Name || c.Value == "" {
			continue
		}

		data, err := s.decode(c.Value)
		if err != nil {
			log.Debug().Err(err).Str("cookie", s.cfg.Name).Msg("Ignoring invalid signed cookie")
			return sess, nil
		}
		sess.data = data
		return sess, nil
	}

	return sess, nil
}

func (s *SignedStore) decode(value string) (map[string]json.RawMessage, error) {
	var lastErr error
	for _, secret := range s.cfg.Secrets {
		var c claims
		_, err := jwt.ParseWithClaims(value, &c, func(t *jwt.Token) (any, error) {
			return secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(s.now),
		)
		if err == nil {
			if c.Data == nil {
				c.Data = make(map[string]json.RawMessage)
			}
			return c.Data, nil
		}
		lastErr = err
		// only a bad signature is worth retrying with the next secret
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	return nil, lastErr
}

// CommitSession encodes the container into a Set-Cookie header value.
func (s *SignedStore) CommitSession(sess *Session, opts ...CommitOption) (string, error) {
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := s.now()
	c := claims{
		Data: sess.clone(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	cookie := s.newCookie()

	switch {
	case !o.expires.IsZero():
		c.ExpiresAt = jwt.NewNumericDate(o.expires)
		cookie.Expires = o.expires.UTC()
	case s.cfg.MaxAge > 0:
		c.ExpiresAt = jwt.NewNumericDate(now.Add(s.cfg.MaxAge))
		cookie.MaxAge = int(s.cfg.MaxAge.Seconds())
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.cfg.Secrets[0])
	if err != nil {
		return "", fmt.Errorf("failed to sign cookie %s: %w", s.cfg.Name, err)
	}
	cookie.Value = value

	return cookie.String(), nil
}

// DestroySession returns a Set-Cookie header value that removes the cookie.
func (s *SignedStore) DestroySession(sess *Session) (string, error) {
	cookie := s.newCookie()
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0).UTC()
	return cookie.String(), nil
}

func (s *SignedStore) newCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.Name,
		Path:     s.cfg.Path,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
