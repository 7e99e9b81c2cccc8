package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/portcullis/internal/cookie"
	httpx "github.com/wolfeidau/portcullis/internal/http"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
	"github.com/wolfeidau/portcullis/internal/store/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	stores  store.Stores
	manager *Manager
	person  *models.Person
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stores := memory.New().Stores()
	cookies, err := cookie.NewSignedStore(cookie.Config{Name: "en_session", Secrets: [][]byte{testSecret}})
	require.NoError(t, err)

	now := time.Now()
	person := &models.Person{
		PersonID:  uuid.Must(uuid.NewV7()),
		Username:  "alice",
		Email:     "alice@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, stores.Persons.Create(context.Background(), person))

	return &fixture{
		stores:  stores,
		manager: NewManager(stores.Sessions, cookies, Config{}),
		person:  person,
	}
}

// login creates a session and returns the Cookie header a browser would send back.
func (f *fixture) login(t *testing.T, remember bool) (*models.Session, string) {
	t.Helper()

	sess, err := f.manager.CreateSession(context.Background(), f.person.PersonID, Meta{UserAgent: "test", IPAddress: "192.0.2.1"})
	require.NoError(t, err)

	header, err := f.manager.CommitHeader(sess, remember)
	require.NoError(t, err)

	c, err := http.ParseSetCookie(header)
	require.NoError(t, err)
	return sess, c.Name + "=" + c.Value
}

func newRequest(method, target, cookieHeader string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	if cookieHeader != "" {
		r.Header.Set("Cookie", cookieHeader)
	}
	return r
}

func TestCreateSession_TTL(t *testing.T) {
	f := newFixture(t)

	sess, err := f.manager.CreateSession(context.Background(), f.person.PersonID, Meta{})
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), sess.SessionID.Version())
	require.WithinDuration(t, sess.CreatedAt.Add(DefaultTTL), sess.ExpiresAt, time.Second)
	require.True(t, sess.ExpiresAt.After(sess.CreatedAt))

	stored, err := f.manager.GetSession(context.Background(), sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, f.person.PersonID, stored.PersonID)
}

func TestCreateSession_UniqueIDs(t *testing.T) {
	f := newFixture(t)

	a, err := f.manager.CreateSession(context.Background(), f.person.PersonID, Meta{})
	require.NoError(t, err)
	b, err := f.manager.CreateSession(context.Background(), f.person.PersonID, Meta{})
	require.NoError(t, err)
	require.NotEqual(t, a.SessionID, b.SessionID)
}

func TestGetSession_ExpiredIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.manager.ttl = time.Millisecond

	sess, err := f.manager.CreateSession(context.Background(), f.person.PersonID, Meta{})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = f.manager.GetSession(context.Background(), sess.SessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestResolveIdentity_Anonymous(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	_, ok, err := f.manager.ResolveIdentity(w, newRequest(http.MethodGet, "/", ""))
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, w.Header().Values("Set-Cookie"))
}

func TestResolveIdentity_RoundTrip(t *testing.T) {
	f := newFixture(t)
	sess, cookieHeader := f.login(t, false)

	w := httptest.NewRecorder()
	id, ok, err := f.manager.ResolveIdentity(w, newRequest(http.MethodGet, "/", cookieHeader))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess.SessionID, id.SessionID)
	require.Equal(t, f.person.PersonID, id.PersonID)
	require.Empty(t, w.Header().Values("Set-Cookie"))
}

func TestResolveIdentity_StaleSessionClearsCookie(t *testing.T) {
	f := newFixture(t)
	sess, cookieHeader := f.login(t, false)

	require.NoError(t, f.stores.Sessions.Delete(context.Background(), sess.SessionID))

	w := httptest.NewRecorder()
	_, ok, err := f.manager.ResolveIdentity(w, newRequest(http.MethodGet, "/notes", cookieHeader))
	require.NoError(t, err)
	require.False(t, ok)

	setCookies := w.Header().Values("Set-Cookie")
	require.Len(t, setCookies, 1)
	require.True(t, strings.HasPrefix(setCookies[0], "en_session="))
	require.Contains(t, setCookies[0], "Max-Age=0")
}

func TestResolveIdentity_TamperedCookieIsAnonymous(t *testing.T) {
	f := newFixture(t)
	_, cookieHeader := f.login(t, false)

	w := httptest.NewRecorder()
	_, ok, err := f.manager.ResolveIdentity(w, newRequest(http.MethodGet, "/", cookieHeader+"x"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRequireIdentity_Redirects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		opts     RequireOptions
		expected string
	}{
		{"original path and query", RequireOptions{}, "/login?redirectTo=%2Fnotes%3Fpage%3D2"},
		{"explicit target", RequireOptions{RedirectTo: "/settings"}, "/login?redirectTo=%2Fsettings"},
		{"opt out", RequireOptions{OptOut: true}, "/login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			_, err := f.manager.RequireIdentity(w, newRequest(http.MethodGet, "/notes?page=2", ""), tt.opts)

			var redirect *httpx.Redirect
			require.True(t, errors.As(err, &redirect))
			require.Equal(t, tt.expected, redirect.Location)
			require.Equal(t, http.StatusFound, redirect.Status)
		})
	}
}

func TestRequireIdentity_Authenticated(t *testing.T) {
	f := newFixture(t)
	_, cookieHeader := f.login(t, false)

	id, err := f.manager.RequireIdentity(httptest.NewRecorder(), newRequest(http.MethodGet, "/", cookieHeader), RequireOptions{})
	require.NoError(t, err)
	require.Equal(t, f.person.PersonID, id.PersonID)
}

func TestRequireAnonymous(t *testing.T) {
	f := newFixture(t)
	_, cookieHeader := f.login(t, false)

	require.NoError(t, f.manager.RequireAnonymous(httptest.NewRecorder(), newRequest(http.MethodGet, "/login", "")))

	err := f.manager.RequireAnonymous(httptest.NewRecorder(), newRequest(http.MethodGet, "/login", cookieHeader))
	var redirect *httpx.Redirect
	require.True(t, errors.As(err, &redirect))
	require.Equal(t, HomePath, redirect.Location)
}

func TestCommit_Remember(t *testing.T) {
	f := newFixture(t)
	sess, err := f.manager.CreateSession(context.Background(), f.person.PersonID, Meta{})
	require.NoError(t, err)

	t.Run("session cookie without remember", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, f.manager.Commit(w, sess, false))

		c, err := http.ParseSetCookie(w.Header().Get("Set-Cookie"))
		require.NoError(t, err)
		require.True(t, c.Expires.IsZero())
		require.Zero(t, c.MaxAge)
		require.True(t, c.HttpOnly)
		require.Equal(t, http.SameSiteLaxMode, c.SameSite)
		require.Equal(t, "/", c.Path)
	})

	t.Run("persistent cookie with remember", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, f.manager.Commit(w, sess, true))

		c, err := http.ParseSetCookie(w.Header().Get("Set-Cookie"))
		require.NoError(t, err)
		require.WithinDuration(t, sess.ExpiresAt, c.Expires, time.Second)
	})
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	sess, cookieHeader := f.login(t, true)

	extra := http.Header{}
	extra.Set("X-Flash", "signed-out")

	redirect, err := f.manager.Logout(newRequest(http.MethodPost, "/logout", cookieHeader), LogoutOptions{
		RedirectTo: "//evil.example",
		Header:     extra,
	})
	require.NoError(t, err)
	require.Equal(t, HomePath, redirect.Location)
	require.Equal(t, "signed-out", redirect.Header.Get("X-Flash"))
	require.Contains(t, redirect.Header.Get("Set-Cookie"), "Max-Age=0")

	f.manager.Wait()

	_, err = f.stores.Sessions.Get(context.Background(), sess.SessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	_, ok, err := f.manager.ResolveIdentity(httptest.NewRecorder(), newRequest(http.MethodGet, "/", cookieHeader))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLogout_Anonymous(t *testing.T) {
	f := newFixture(t)

	redirect, err := f.manager.Logout(newRequest(http.MethodPost, "/logout", ""), LogoutOptions{RedirectTo: "/bye"})
	require.NoError(t, err)
	require.Equal(t, "/bye", redirect.Location)
	require.NotEmpty(t, redirect.Header.Get("Set-Cookie"))
	f.manager.Wait()
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)
	_, cookieHeader := f.login(t, false)

	h := f.manager.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, f.person.PersonID, id.PersonID)
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "/settings/profile", cookieHeader))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "/settings/profile", ""))
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/login?redirectTo=%2Fsettings%2Fprofile", w.Header().Get("Location"))
}

func TestMetaFromRequest(t *testing.T) {
	r := newRequest(http.MethodGet, "/", "")
	r.RemoteAddr = "[2001:db8::1]:443"
	r.Header.Set("User-Agent", "agent/1.0")

	meta := MetaFromRequest(r)
	require.Equal(t, "agent/1.0", meta.UserAgent)
	require.Equal(t, "2001:db8::1", meta.IPAddress)
}
