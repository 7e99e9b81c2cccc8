package login

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/portcullis/internal/auth"
	"github.com/wolfeidau/portcullis/internal/cookie"
	"github.com/wolfeidau/portcullis/internal/mail"
	"github.com/wolfeidau/portcullis/internal/session"
	"github.com/wolfeidau/portcullis/internal/store"
	"github.com/wolfeidau/portcullis/internal/store/memory"
	"github.com/wolfeidau/portcullis/internal/verify"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testEnv struct {
	stores   store.Stores
	catalog  *auth.Catalog
	sessions *session.Manager
	verifier *verify.Broker
	authz    *auth.Authorizer
	mailer   *mail.MemorySender
	service  *Service
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, true)
}

func newTestEnvWith(t *testing.T, applyCatalog bool) *testEnv {
	t.Helper()

	stores := memory.New().Stores()

	catalog, err := auth.DefaultCatalog()
	require.NoError(t, err)
	if applyCatalog {
		require.NoError(t, catalog.Apply(context.Background(), stores.RBAC))
	}

	authCookies, err := cookie.NewSignedStore(cookie.Config{Name: "en_session", Secrets: [][]byte{testSecret}})
	require.NoError(t, err)
	verifyCookies, err := cookie.NewSignedStore(cookie.Config{
		Name:    "en_verification",
		Secrets: [][]byte{testSecret},
		MaxAge:  verify.DefaultTTL,
	})
	require.NoError(t, err)

	sessions := session.NewManager(stores.Sessions, authCookies, session.Config{})
	t.Cleanup(sessions.Wait)

	verifier, err := verify.NewBroker(stores.Verifications, verifyCookies, verify.Config{Secret: testSecret})
	require.NoError(t, err)

	authz := auth.NewAuthorizer(stores.RBAC)
	mailer := &mail.MemorySender{}

	service, err := NewService(ServiceConfig{
		Stores:   stores,
		Sessions: sessions,
		Authz:    authz,
		Catalog:  catalog,
		Mailer:   mailer,
	})
	require.NoError(t, err)

	handlers, err := NewHandlers(HandlersConfig{
		Service:  service,
		Sessions: sessions,
		Verifier: verifier,
		Authz:    authz,
		Mailer:   mailer,
		BaseURL:  "http://portcullis.test/",
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/api/", handlers.APIRoutes())
	mux.Handle("/", handlers.FormRoutes())

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{
		stores:   stores,
		catalog:  catalog,
		sessions: sessions,
		verifier: verifier,
		authz:    authz,
		mailer:   mailer,
		service:  service,
		server:   server,
	}
}

// seedPerson signs a person up directly through the service.
func (e *testEnv) seedPerson(t *testing.T, username, pw string) uuid.UUID {
	t.Helper()
	sess, err := e.service.Signup(context.Background(), SignupInput{
		Email:    username + "@x.com",
		Username: username,
		Password: pw,
	}, session.Meta{})
	require.NoError(t, err)
	return sess.PersonID
}

// newBrowser returns a client with its own cookie jar that does not follow redirects.
func (e *testEnv) newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) post(t *testing.T, c *http.Client, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(e.server.URL+path, form)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, c *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := c.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) cookie(t *testing.T, c *http.Client, name string) *http.Cookie {
	t.Helper()
	u, err := url.Parse(e.server.URL)
	require.NoError(t, err)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

// login signs a browser in and checks the redirect.
func (e *testEnv) login(t *testing.T, c *http.Client, username, pw string) {
	t.Helper()
	resp := e.post(t, c, "/login", url.Values{"username": {username}, "password": {pw}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.NotNil(t, e.cookie(t, c, "en_session"))
}

var codePattern = regexp.MustCompile(`verification code: (\d{6})`)

// lastCode extracts the most recent code mailed to addr.
func (e *testEnv) lastCode(t *testing.T, addr string) string {
	t.Helper()
	msg, ok := e.mailer.Last(addr)
	require.True(t, ok, "no mail sent to %s", addr)
	m := codePattern.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2)
	return m[1]
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
