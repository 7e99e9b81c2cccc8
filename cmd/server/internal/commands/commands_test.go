package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/portcullis/internal/models"
	memorystore "github.com/wolfeidau/portcullis/internal/store/memory"
)

func TestPruneExpired(t *testing.T) {
	ctx := context.Background()
	stores := memorystore.New().Stores()

	now := time.Now()
	person := &models.Person{PersonID: uuid.Must(uuid.NewV7()), Username: "alice", Email: "alice@x.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, stores.Persons.Create(ctx, person))

	for _, expiresAt := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		require.NoError(t, stores.Sessions.Create(ctx, &models.Session{
			SessionID: uuid.New(),
			PersonID:  person.PersonID,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: expiresAt,
		}))
	}
	for i, expiresAt := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		require.NoError(t, stores.Verifications.Upsert(ctx, &models.Verification{
			VerificationID: uuid.Must(uuid.NewV7()),
			Type:           "onboarding",
			Target:         []string{"a@x.com", "b@x.com"}[i],
			CodeHash:       "hash",
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
		}))
	}

	sessions, verifications, err := pruneExpired(ctx, stores)
	require.NoError(t, err)
	require.Equal(t, 1, sessions)
	require.Equal(t, 1, verifications)

	sessions, verifications, err = pruneExpired(ctx, stores)
	require.NoError(t, err)
	require.Zero(t, sessions)
	require.Zero(t, verifications)
}

func TestWithCORS(t *testing.T) {
	h := withCORS([]string{"https://app.example"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := loadCatalog("")
	require.NoError(t, err)
	require.Equal(t, "user", catalog.DefaultRole)

	_, err = loadCatalog("testdata/missing.yaml")
	require.Error(t, err)
}

func TestServeCmd_Validate(t *testing.T) {
	cmd := &ServeCmd{CookieSecrets: []string{"s"}, Cert: "cert.pem"}
	require.Error(t, cmd.Validate())

	cmd.Key = "key.pem"
	require.NoError(t, cmd.Validate())

	cmd.CookieSecrets = nil
	require.Error(t, cmd.Validate())
}
