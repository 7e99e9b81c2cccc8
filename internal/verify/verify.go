// Package verify issues and validates short-lived, single-use verification codes.
//
// A code is recorded in a server-side ledger as an HMAC hash. The flow state
// that has to survive the redirect (which address is being verified, and
// whether that already happened) travels in its own signed cookie, separate
// from the auth cookie.
package verify

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/cookie"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
	"github.com/wolfeidau/portcullis/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Type names a verification flow.
type Type string

const (
	TypeOnboarding    Type = "onboarding"
	TypeChangeEmail   Type = "change-email"
	TypeResetPassword Type = "reset-password"
	TypeTwoFactor     Type = "2fa"
)

// Cookie keys holding the pending payload of each supported flow.
const (
	OnboardingEmailKey = "onboardingEmail"
	NewEmailAddressKey = "new-email-address"
)

const (
	// PayloadVersion is bumped whenever Payload changes shape.
	PayloadVersion = 1

	// CodeLength is the number of digits in an issued code.
	CodeLength = 6

	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 5
)

// ParseType validates a type name. Known but unimplemented flows parse
// successfully; use Supported to check whether they can be issued.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeOnboarding, TypeChangeEmail, TypeResetPassword, TypeTwoFactor:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// Supported reports whether codes of this type can be issued.
func (t Type) Supported() bool {
	return t.sessionKey() != ""
}

func (t Type) sessionKey() string {
	switch t {
	case TypeOnboarding:
		return OnboardingEmailKey
	case TypeChangeEmail:
		return NewEmailAddressKey
	}
	return ""
}

// Error is a verification failure that renders as a 400.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// StatusCode implements httpx.StatusError.
func (e *Error) StatusCode() int { return http.StatusBadRequest }

// ResponseBody implements httpx.StatusError.
func (e *Error) ResponseBody() any {
	return map[string]string{"error": e.msg}
}

var (
	// ErrMismatch hides which of code, type or target did not match.
	ErrMismatch = &Error{msg: "invalid code"}

	// ErrUnsupportedType is returned for flows that are not implemented.
	ErrUnsupportedType = &Error{msg: "unsupported verification type"}

	// ErrNoPending means the verification cookie holds no usable payload.
	ErrNoPending = errors.New("no pending verification")
)

// Payload is the pending flow state carried in the verification cookie.
type Payload struct {
	V         int               `json:"v"`
	Type      Type              `json:"type"`
	Target    string            `json:"target"`
	Verified  bool              `json:"verified"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Data      map[string]string `json:"data,omitempty"`
}

// Challenge describes a code to issue.
type Challenge struct {
	Type   Type
	Target string

	// Data is carried in the cookie alongside the target, e.g. the new email
	// address of a change-email flow.
	Data map[string]string
}

// Config configures a Broker.
type Config struct {
	// Secret keys the HMAC used to hash codes in the ledger.
	Secret []byte

	// TTL defaults to DefaultTTL.
	TTL time.Duration

	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
}

// Broker issues and validates verification codes.
type Broker struct {
	ledger      store.VerificationStore
	cookies     cookie.Store
	secret      []byte
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewBroker creates a broker. cookies must be a different container from the
// auth cookie.
func NewBroker(ledger store.VerificationStore, cookies cookie.Store, cfg Config) (*Broker, error) {
	if len(cfg.Secret) < cookie.MinSecretLength {
		return nil, fmt.Errorf("verification secret must be at least %d bytes", cookie.MinSecretLength)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Broker{
		ledger:      ledger,
		cookies:     cookies,
		secret:      cfg.Secret,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}, nil
}

// TTL returns how long an issued code stays valid.
func (b *Broker) TTL() time.Duration {
	return b.ttl
}

// Issue records a new code for the challenge and writes a fresh verification
// cookie holding the pending payload. Any earlier pending payload, of any type,
// is replaced rather than merged.
func (b *Broker) Issue(ctx context.Context, w http.ResponseWriter, c Challenge) (string, error) {
	if !c.Type.Supported() {
		return "", ErrUnsupportedType
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}

	now := b.now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification id: %w", err)
	}

	err = b.ledger.Upsert(ctx, &models.Verification{
		VerificationID: id,
		Type:           string(c.Type),
		Target:         c.Target,
		CodeHash:       b.hashCode(c.Type, c.Target, code),
		CreatedAt:      now,
		ExpiresAt:      now.Add(b.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to record verification: %w", err)
	}

	if err := b.commit(w, b.newPayload(c.Type, c.Target, c.Data, now)); err != nil {
		return "", err
	}

	telemetry.GetMetrics().VerificationsIssuedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", string(c.Type))))

	log.Debug().Str("type", string(c.Type)).Msg("Verification issued")

	return code, nil
}

// Validate checks code against the ledger and consumes it. It returns
// ErrMismatch unless an unexpired, unconsumed code for (typ, target) exists,
// is under the attempt limit and matches. On success it returns the pending
// payload from this browser's cookie when it matches (typ, target), or nil
// when the code was submitted from another device.
func (b *Broker) Validate(ctx context.Context, r *http.Request, code string, typ Type, target string) (*Payload, error) {
	if !typ.Supported() {
		return nil, ErrUnsupportedType
	}

	ok, err := b.check(ctx, strings.TrimSpace(code), typ, target)
	telemetry.RecordResult(ctx, telemetry.GetMetrics().VerificationsValidatedTotal, ok && err == nil,
		attribute.String("type", string(typ)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMismatch
	}

	payload, err := b.Pending(r, typ)
	if errors.Is(err, ErrNoPending) || (err == nil && payload.Target != target) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (b *Broker) check(ctx context.Context, code string, typ Type, target string) (bool, error) {
	v, err := b.ledger.Get(ctx, string(typ), target)
	if errors.Is(err, store.ErrVerificationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get verification: %w", err)
	}

	now := b.now()
	if v.IsConsumed() || v.IsExpiredAt(now) || v.Attempts >= b.maxAttempts {
		return false, nil
	}

	// Every guess, right or wrong, spends an attempt before the hash is compared.
	attempts, err := b.ledger.ReserveAttempt(ctx, v.VerificationID, b.maxAttempts, now.UTC())
	if errors.Is(err, store.ErrVerificationLocked) || errors.Is(err, store.ErrVerificationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record verification attempt: %w", err)
	}

	expected := b.hashCode(typ, target, code)
	if !hmac.Equal([]byte(expected), []byte(v.CodeHash)) {
		log.Debug().Str("type", string(typ)).Int("attempts", attempts).Msg("Verification code mismatch")
		return false, nil
	}

	err = b.ledger.MarkConsumed(ctx, v.VerificationID, now.UTC())
	if errors.Is(err, store.ErrVerificationConsumed) || errors.Is(err, store.ErrVerificationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume verification: %w", err)
	}
	return true, nil
}

// NewPayload builds a pending payload for (typ, target) expiring one TTL from
// now. Flows use it when a code was validated on a device that never received
// the original cookie.
func (b *Broker) NewPayload(typ Type, target string, data map[string]string) *Payload {
	return b.newPayload(typ, target, data, b.now().UTC())
}

func (b *Broker) newPayload(typ Type, target string, data map[string]string, now time.Time) *Payload {
	return &Payload{
		V:         PayloadVersion,
		Type:      typ,
		Target:    target,
		IssuedAt:  now,
		ExpiresAt: now.Add(b.ttl),
		Data:      data,
	}
}

// MarkVerified re-commits p with Verified set, keeping its original expiry.
func (b *Broker) MarkVerified(w http.ResponseWriter, p *Payload) error {
	verified := *p
	verified.Verified = true
	return b.commit(w, &verified)
}

// Pending returns the payload for typ without clearing it.
func (b *Broker) Pending(r *http.Request, typ Type) (*Payload, error) {
	key := typ.sessionKey()
	if key == "" {
		return nil, ErrUnsupportedType
	}

	cs, err := b.cookies.GetSession(r.Header.Get("Cookie"))
	if err != nil {
		return nil, fmt.Errorf("failed to read verification cookie: %w", err)
	}

	var p Payload
	ok, err := cs.Get(key, &p)
	if !ok {
		return nil, ErrNoPending
	}
	if err != nil {
		log.Debug().Err(err).Msg("Ignoring undecodable verification payload")
		return nil, ErrNoPending
	}
	if p.V != PayloadVersion || p.Type != typ || !b.now().Before(p.ExpiresAt) {
		return nil, ErrNoPending
	}
	return &p, nil
}

// PendingVerified is Pending restricted to payloads whose code was validated.
func (b *Broker) PendingVerified(r *http.Request, typ Type) (*Payload, error) {
	p, err := b.Pending(r, typ)
	if err != nil {
		return nil, err
	}
	if !p.Verified {
		return nil, ErrNoPending
	}
	return p, nil
}

// Consume returns the pending payload for typ and destroys the container.
func (b *Broker) Consume(w http.ResponseWriter, r *http.Request, typ Type) (*Payload, error) {
	p, err := b.Pending(r, typ)
	if err != nil {
		return nil, err
	}
	if err := b.Discard(w, r); err != nil {
		return nil, err
	}
	return p, nil
}

// DiscardHeader returns the Set-Cookie value that destroys the verification container.
func (b *Broker) DiscardHeader(r *http.Request) (string, error) {
	cs, err := b.cookies.GetSession(r.Header.Get("Cookie"))
	if err != nil {
		return "", fmt.Errorf("failed to read verification cookie: %w", err)
	}
	header, err := b.cookies.DestroySession(cs)
	if err != nil {
		return "", fmt.Errorf("failed to destroy verification cookie: %w", err)
	}
	return header, nil
}

// Discard destroys the verification container and all pending state in it.
func (b *Broker) Discard(w http.ResponseWriter, r *http.Request) error {
	header, err := b.DiscardHeader(r)
	if err != nil {
		return err
	}
	w.Header().Add("Set-Cookie", header)
	return nil
}

// RecentlyVerified reports whether the code for (typ, target) was consumed
// no longer than within ago.
func (b *Broker) RecentlyVerified(ctx context.Context, typ Type, target string, within time.Duration) (bool, error) {
	v, err := b.ledger.Get(ctx, string(typ), target)
	if errors.Is(err, store.ErrVerificationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get verification: %w", err)
	}
	if v.ConsumedAt == nil {
		return false, nil
	}
	return b.now().Sub(*v.ConsumedAt) <= within, nil
}

func (b *Broker) commit(w http.ResponseWriter, p *Payload) error {
	cs := cookie.NewSession()
	if err := cs.Set(p.Type.sessionKey(), p); err != nil {
		return err
	}
	header, err := b.cookies.CommitSession(cs)
	if err != nil {
		return fmt.Errorf("failed to commit verification cookie: %w", err)
	}
	w.Header().Add("Set-Cookie", header)
	return nil
}

func (b *Broker) hashCode(typ Type, target, code string) string {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(string(typ) + "|" + target + "|" + code))
	return base58.Encode(mac.Sum(nil))
}

var codeSpace = big.NewInt(1_000_000)

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}
