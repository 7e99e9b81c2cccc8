package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/wolfeidau/portcullis/internal/auth"
	"github.com/wolfeidau/portcullis/internal/cookie"
	httpx "github.com/wolfeidau/portcullis/internal/http"
	"github.com/wolfeidau/portcullis/internal/logger"
	"github.com/wolfeidau/portcullis/internal/login"
	"github.com/wolfeidau/portcullis/internal/mail"
	"github.com/wolfeidau/portcullis/internal/session"
	"github.com/wolfeidau/portcullis/internal/telemetry"
	"github.com/wolfeidau/portcullis/internal/verify"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	sessionCookieName      = "en_session"
	verificationCookieName = "en_verification"
)

type ServeCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"PORTCULLIS_LISTEN"`
	Cert            string        `help:"path to TLS cert file, serves plain HTTP when unset" default:"" env:"PORTCULLIS_TLS_CERT"`
	Key             string        `help:"path to TLS key file" default:"" env:"PORTCULLIS_TLS_KEY"`
	BaseURL         string        `help:"public base URL used in emailed links" default:"http://localhost:8080" env:"PORTCULLIS_BASE_URL"`
	TrustProxy      bool          `help:"trust X-Forwarded-For and X-Real-IP for client addresses" default:"false" env:"PORTCULLIS_TRUST_PROXY"`
	ShutdownTimeout time.Duration `help:"grace period for in-flight requests on shutdown" default:"30s" env:"PORTCULLIS_SHUTDOWN_TIMEOUT"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"PORTCULLIS_CORS_ORIGINS"`

	// Cookie and session configuration
	CookieSecrets      []string      `help:"secrets signing cookies, the first signs and all verify" required:"" env:"PORTCULLIS_COOKIE_SECRETS"`
	SecureCookies      bool          `help:"set the Secure attribute on cookies" default:"true" negatable:"" env:"PORTCULLIS_SECURE_COOKIES"`
	SessionTTL         time.Duration `help:"session lifetime" default:"720h" env:"PORTCULLIS_SESSION_TTL"`
	VerificationSecret string        `help:"secret keying verification code hashes" required:"" env:"PORTCULLIS_VERIFICATION_SECRET"`
	VerificationTTL    time.Duration `help:"verification code lifetime" default:"10m" env:"PORTCULLIS_VERIFICATION_TTL"`
	VerificationTries  int           `help:"failed attempts allowed per verification code" default:"5" env:"PORTCULLIS_VERIFICATION_MAX_ATTEMPTS"`
	PruneInterval      time.Duration `help:"how often expired sessions and verifications are deleted, 0 disables" default:"1h" env:"PORTCULLIS_PRUNE_INTERVAL"`

	// Permissions
	Catalog string `help:"path to a role catalog YAML file, the built-in catalog is used when unset" default:"" env:"PORTCULLIS_CATALOG"`

	// Operational modes
	Tracing          bool    `help:"enable tracing and metrics export" default:"false" env:"PORTCULLIS_TRACING"`
	TraceSampleRatio float64 `help:"fraction of requests traced" default:"1.0" env:"PORTCULLIS_TRACE_SAMPLE_RATIO"`

	Store StoreFlags `embed:"" prefix:"store-"`
}

func (c *ServeCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	if len(c.CookieSecrets) == 0 {
		return errors.New("at least one cookie secret is required (--cookie-secrets or PORTCULLIS_COOKIE_SECRETS)")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Float64("sample_ratio", c.TraceSampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "portcullis",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	stores, closeStores, err := openStores(ctx, &c.Store)
	if err != nil {
		return err
	}
	defer closeStores()

	catalog, err := loadCatalog(c.Catalog)
	if err != nil {
		return fmt.Errorf("failed to load role catalog: %w", err)
	}
	if err := catalog.Apply(ctx, stores.RBAC); err != nil {
		return fmt.Errorf("failed to apply role catalog: %w", err)
	}

	secrets := make([][]byte, 0, len(c.CookieSecrets))
	for _, s := range c.CookieSecrets {
		secrets = append(secrets, []byte(s))
	}

	authCookies, err := cookie.NewSignedStore(cookie.Config{
		Name:    sessionCookieName,
		Secrets: secrets,
		Secure:  c.SecureCookies,
	})
	if err != nil {
		return fmt.Errorf("failed to create session cookie store: %w", err)
	}
	verifyCookies, err := cookie.NewSignedStore(cookie.Config{
		Name:    verificationCookieName,
		Secrets: secrets,
		MaxAge:  c.VerificationTTL,
		Secure:  c.SecureCookies,
	})
	if err != nil {
		return fmt.Errorf("failed to create verification cookie store: %w", err)
	}

	sessions := session.NewManager(stores.Sessions, authCookies, session.Config{TTL: c.SessionTTL})
	// let background session deletes from logouts finish
	defer sessions.Wait()

	verifier, err := verify.NewBroker(stores.Verifications, verifyCookies, verify.Config{
		Secret:      []byte(c.VerificationSecret),
		TTL:         c.VerificationTTL,
		MaxAttempts: c.VerificationTries,
	})
	if err != nil {
		return fmt.Errorf("failed to create verification broker: %w", err)
	}

	authz := auth.NewAuthorizer(stores.RBAC)
	mailer := mail.LogSender{Logger: &log}

	service, err := login.NewService(login.ServiceConfig{
		Stores:   stores,
		Sessions: sessions,
		Authz:    authz,
		Catalog:  catalog,
		Mailer:   mailer,
	})
	if err != nil {
		return fmt.Errorf("failed to create account service: %w", err)
	}

	handlers, err := login.NewHandlers(login.HandlersConfig{
		Service:  service,
		Sessions: sessions,
		Verifier: verifier,
		Authz:    authz,
		Mailer:   mailer,
		BaseURL:  c.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes get CORS, form routes get CSRF
	mux.Handle("/api/", withCORS(c.CORSOrigins, handlers.APIRoutes()))
	mux.Handle("/", csrf.New().Handler(handlers.FormRoutes()))

	var handler http.Handler = gzhttp.GzipHandler(mux)
	handler = logger.HTTPRequests(log)(handler)
	handler = httpx.ClientIPMiddleware(c.TrustProxy)(handler)
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "portcullis")
	}

	if c.PruneInterval > 0 {
		go runPruner(ctx, stores, c.PruneInterval)
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		if c.Cert != "" {
			if _, err := os.Stat(c.Cert); err != nil {
				errCh <- fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
				return
			}
			log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", c.ShutdownTimeout).Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// withCORS allows credentialed cross-origin reads of the JSON API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", logger.RequestIDHeader},
		ExposedHeaders:   []string{logger.RequestIDHeader},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
