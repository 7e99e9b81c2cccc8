// Package session manages server-side sessions referenced by a signed cookie.
//
// The cookie only carries the session id. Everything else about the session
// lives in the store and is checked on every request.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/cookie"
	httpx "github.com/wolfeidau/portcullis/internal/http"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
	"github.com/wolfeidau/portcullis/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultTTL is the lifetime of a new session.
	DefaultTTL = 30 * 24 * time.Hour

	// LoginPath is where RequireIdentity sends anonymous callers.
	LoginPath = "/login"

	// HomePath is where RequireAnonymous sends signed-in callers.
	HomePath = "/"

	sessionIDKey         = "sessionId"
	defaultDeleteTimeout = 30 * time.Second
)

// Config configures a Manager.
type Config struct {
	// TTL defaults to DefaultTTL.
	TTL time.Duration

	// DeleteTimeout bounds the background delete performed by Logout.
	DeleteTimeout time.Duration
}

// Meta is the optional audit data recorded with a session.
type Meta struct {
	UserAgent string
	IPAddress string
}

// MetaFromRequest collects audit data from r.
func MetaFromRequest(r *http.Request) Meta {
	return Meta{
		UserAgent: r.UserAgent(),
		IPAddress: httpx.ClientIP(r),
	}
}

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	PersonID  uuid.UUID
	SessionID uuid.UUID
}

// Manager creates, resolves and revokes sessions.
type Manager struct {
	sessions      store.SessionStore
	cookies       cookie.Store
	ttl           time.Duration
	deleteTimeout time.Duration
	now           func() time.Time

	wg sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(sessions store.SessionStore, cookies cookie.Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = defaultDeleteTimeout
	}
	return &Manager{
		sessions:      sessions,
		cookies:       cookies,
		ttl:           cfg.TTL,
		deleteTimeout: cfg.DeleteTimeout,
		now:           time.Now,
	}
}

// TTL returns the lifetime given to new sessions.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CreateSession persists a new session for personID.
func (m *Manager) CreateSession(ctx context.Context, personID uuid.UUID, meta Meta) (*models.Session, error) {
	return m.CreateSessionWith(ctx, m.sessions, personID, meta)
}

// CreateSessionWith persists a new session through sessions, which lets signup
// create it inside its transaction.
func (m *Manager) CreateSessionWith(ctx context.Context, sessions store.SessionStore, personID uuid.UUID, meta Meta) (*models.Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := m.now().UTC()
	sess := &models.Session{
		SessionID: id,
		PersonID:  personID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	}

	if err := sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	telemetry.GetMetrics().SessionsCreatedTotal.Add(ctx, 1)

	return sess, nil
}

// GetSession returns the live session with the given id.
// Missing and expired sessions both return store.ErrSessionNotFound.
func (m *Manager) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, store.ErrSessionExpired) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes a session. Failures are logged and swallowed because
// the cookie is cleared on the client regardless.
func (m *Manager) DeleteSession(ctx context.Context, sessionID uuid.UUID) {
	err := m.sessions.Delete(ctx, sessionID)
	switch {
	case err == nil:
		telemetry.GetMetrics().SessionsDeletedTotal.Add(ctx, 1)
	case errors.Is(err, store.ErrSessionNotFound):
		log.Debug().Str("session_id", sessionID.String()).Msg("Session already deleted")
	default:
		telemetry.GetMetrics().SessionDeleteFailuresTotal.Add(ctx, 1)
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to delete session")
	}
}

// sessionID reads the session id from the auth cookie. present is true when
// the cookie carried a value, even one that does not parse.
func (m *Manager) sessionID(r *http.Request) (id uuid.UUID, present bool, err error) {
	cs, err := m.cookies.GetSession(r.Header.Get("Cookie"))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read auth cookie: %w", err)
	}

	var raw string
	ok, err := cs.Get(sessionIDKey, &raw)
	if !ok {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, true, nil
	}

	id, err = uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, true, nil
	}
	return id, true, nil
}

// ResolveIdentity returns the caller's identity, or false for an anonymous
// request. A cookie that references a missing session is stale: the cookie is
// cleared on w and the request is treated as anonymous.
func (m *Manager) ResolveIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool, error) {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return id, true, nil
	}

	sessionID, present, err := m.sessionID(r)
	if err != nil {
		return Identity{}, false, err
	}
	if !present {
		return Identity{}, false, nil
	}

	sess, err := m.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		m.clearStale(w, r, sessionID)
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}

	return Identity{PersonID: sess.PersonID, SessionID: sess.SessionID}, true, nil
}

func (m *Manager) clearStale(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) {
	log.Warn().
		Str("session_id", sessionID.String()).
		Str("path", r.URL.Path).
		Msg("Stale session cookie, clearing")

	telemetry.GetMetrics().StaleSessionsTotal.Add(r.Context(), 1)

	header, err := m.DestroyHeader(r)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build auth cookie destroy header")
		return
	}
	w.Header().Add("Set-Cookie", header)
}

// RequireOptions customises the login redirect issued by RequireIdentity.
type RequireOptions struct {
	// RedirectTo replaces the original path+query as the return target.
	RedirectTo string

	// OptOut omits the redirectTo parameter entirely.
	OptOut bool
}

// RequireIdentity returns the caller's identity or a *httpx.Redirect to the
// login page.
func (m *Manager) RequireIdentity(w http.ResponseWriter, r *http.Request, opts RequireOptions) (Identity, error) {
	id, ok, err := m.ResolveIdentity(w, r)
	if err != nil {
		return Identity{}, err
	}
	if ok {
		return id, nil
	}
	return Identity{}, LoginRedirect(r, opts)
}

// LoginRedirect builds the redirect sent to anonymous callers of a protected route.
func LoginRedirect(r *http.Request, opts RequireOptions) *httpx.Redirect {
	if opts.OptOut {
		return httpx.NewRedirect(LoginPath)
	}

	to := opts.RedirectTo
	if to == "" {
		to = r.URL.RequestURI()
	}
	return httpx.NewRedirect(LoginPath + "?" + url.Values{"redirectTo": {to}}.Encode())
}

// RequireAnonymous returns a *httpx.Redirect to the home page when the caller
// is signed in.
func (m *Manager) RequireAnonymous(w http.ResponseWriter, r *http.Request) error {
	_, ok, err := m.ResolveIdentity(w, r)
	if err != nil {
		return err
	}
	if ok {
		return httpx.NewRedirect(HomePath)
	}
	return nil
}

// CommitHeader returns the Set-Cookie value referencing sess. The cookie is
// persistent until the session expires only when remember is set.
func (m *Manager) CommitHeader(sess *models.Session, remember bool) (string, error) {
	cs := cookie.NewSession()
	if err := cs.Set(sessionIDKey, sess.SessionID.String()); err != nil {
		return "", err
	}

	var opts []cookie.CommitOption
	if remember {
		opts = append(opts, cookie.WithExpires(sess.ExpiresAt))
	}

	header, err := m.cookies.CommitSession(cs, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to commit auth cookie: %w", err)
	}
	return header, nil
}

// Commit sets the auth cookie for sess on w.
func (m *Manager) Commit(w http.ResponseWriter, sess *models.Session, remember bool) error {
	header, err := m.CommitHeader(sess, remember)
	if err != nil {
		return err
	}
	w.Header().Add("Set-Cookie", header)
	return nil
}

// DestroyHeader returns the Set-Cookie value that clears the auth cookie.
func (m *Manager) DestroyHeader(r *http.Request) (string, error) {
	cs, err := m.cookies.GetSession(r.Header.Get("Cookie"))
	if err != nil {
		return "", fmt.Errorf("failed to read auth cookie: %w", err)
	}
	header, err := m.cookies.DestroySession(cs)
	if err != nil {
		return "", fmt.Errorf("failed to destroy auth cookie: %w", err)
	}
	return header, nil
}

// LogoutOptions customises the redirect returned by Logout.
type LogoutOptions struct {
	// RedirectTo must be a local path; anything else falls back to HomePath.
	RedirectTo string

	// Header is merged into the redirect's headers.
	Header http.Header
}

// Logout schedules deletion of the caller's session and returns a redirect
// that clears the auth cookie. The response never waits on the delete.
func (m *Manager) Logout(r *http.Request, opts LogoutOptions) (*httpx.Redirect, error) {
	sessionID, present, err := m.sessionID(r)
	if err != nil {
		return nil, err
	}
	if present && sessionID != uuid.Nil {
		m.deleteInBackground(context.WithoutCancel(r.Context()), sessionID)
	}

	header, err := m.DestroyHeader(r)
	if err != nil {
		return nil, err
	}

	redirect := httpx.NewRedirect(httpx.SafeRedirect(opts.RedirectTo, HomePath))
	redirect.Header.Add("Set-Cookie", header)
	return redirect.WithHeader(opts.Header), nil
}

func (m *Manager) deleteInBackground(ctx context.Context, sessionID uuid.UUID) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, m.deleteTimeout)
		defer cancel()

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := m.sessions.Delete(ctx, sessionID)
			if errors.Is(err, store.ErrSessionNotFound) {
				return struct{}{}, nil
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(m.deleteTimeout),
			backoff.WithNotify(func(err error, d time.Duration) {
				log.Warn().Err(err).Dur("retry_in", d).Str("session_id", sessionID.String()).Msg("Session delete failed, retrying")
			}),
		)

		metrics := telemetry.GetMetrics()
		if err != nil {
			metrics.SessionDeleteFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", "logout")))
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to delete session on logout")
			return
		}
		metrics.SessionsDeletedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", "logout")))
		log.Debug().Str("session_id", sessionID.String()).Msg("Session deleted on logout")
	}()
}

// Wait blocks until background session deletes have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext extracts the identity stored by RequireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// RequireAuth is a middleware that protects routes by requiring a valid session.
// Anonymous callers are redirected to the login page with a redirectTo parameter.
// On success, it adds the identity to the request context and calls the next handler.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return httpx.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		id, err := m.RequireIdentity(w, r, RequireOptions{})
		if err != nil {
			return err
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		return nil
	})
}
