package login

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/wolfeidau/portcullis/internal/auth"
	httpx "github.com/wolfeidau/portcullis/internal/http"
	"github.com/wolfeidau/portcullis/internal/mail"
	"github.com/wolfeidau/portcullis/internal/session"
	"github.com/wolfeidau/portcullis/internal/store"
	"github.com/wolfeidau/portcullis/internal/verify"
)

const (
	SignupPath     = "/signup"
	VerifyPath     = "/verify"
	OnboardingPath = "/onboarding"
	ProfilePath    = "/settings/profile"
)

// Handlers serves the account flows over HTTP. Forms are read as
// form-encoded bodies and answered with redirects or JSON.
type Handlers struct {
	service  *Service
	sessions *session.Manager
	verifier *verify.Broker
	authz    *auth.Authorizer
	spam     SpamChecker
	mailer   mail.Sender
	baseURL  string
}

// HandlersConfig holds the collaborators of Handlers.
type HandlersConfig struct {
	Service  *Service
	Sessions *session.Manager
	Verifier *verify.Broker
	Authz    *auth.Authorizer

	// Spam defaults to a HoneypotChecker.
	Spam SpamChecker

	// Mailer defaults to mail.LogSender.
	Mailer mail.Sender

	// BaseURL prefixes the verification links sent by email.
	BaseURL string
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(cfg HandlersConfig) (*Handlers, error) {
	if cfg.Service == nil || cfg.Sessions == nil || cfg.Verifier == nil || cfg.Authz == nil {
		return nil, errors.New("service, sessions, verifier and authz are required")
	}
	if cfg.Spam == nil {
		cfg.Spam = HoneypotChecker{}
	}
	if cfg.Mailer == nil {
		cfg.Mailer = mail.LogSender{}
	}
	return &Handlers{
		service:  cfg.Service,
		sessions: cfg.Sessions,
		verifier: cfg.Verifier,
		authz:    cfg.Authz,
		spam:     cfg.Spam,
		mailer:   cfg.Mailer,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

// FormRoutes returns the browser-facing routes.
func (h *Handlers) FormRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET "+session.LoginPath, httpx.HandlerFunc(h.loginPage))
	mux.Handle("POST "+session.LoginPath, httpx.HandlerFunc(h.login))
	mux.Handle("GET "+SignupPath, httpx.HandlerFunc(h.signupPage))
	mux.Handle("POST "+SignupPath, httpx.HandlerFunc(h.signup))
	mux.Handle("GET "+VerifyPath, httpx.HandlerFunc(h.verifyPage))
	mux.Handle("POST "+VerifyPath, httpx.HandlerFunc(h.verify))
	mux.Handle("GET "+OnboardingPath, httpx.HandlerFunc(h.onboardingPage))
	mux.Handle("POST "+OnboardingPath, httpx.HandlerFunc(h.onboarding))
	mux.Handle("GET /logout", httpx.HandlerFunc(h.logoutPage))
	mux.Handle("POST /logout", httpx.HandlerFunc(h.logout))
	mux.Handle("GET "+ProfilePath, httpx.HandlerFunc(h.profile))
	mux.Handle("POST "+ProfilePath+"/change-email", httpx.HandlerFunc(h.changeEmail))
	mux.Handle("POST "+ProfilePath+"/username", httpx.HandlerFunc(h.changeUsername))
	mux.Handle("POST "+ProfilePath+"/delete", httpx.HandlerFunc(h.deleteAccount))
	mux.Handle("GET /users/{username}/permissions", httpx.HandlerFunc(h.permissions))
	return mux
}

// APIRoutes returns the JSON API routes.
func (h *Handlers) APIRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /api/me", httpx.HandlerFunc(h.me))
	mux.Handle("GET /api/authorize", httpx.HandlerFunc(h.authorize))
	return mux
}

func formBool(r *http.Request, key string) bool {
	switch r.PostFormValue(key) {
	case "on", "true", "1":
		return true
	}
	return false
}

func (h *Handlers) checkSpam(r *http.Request) error {
	if err := h.spam.Check(r); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("path", r.URL.Path).Msg("Spam check failed")
		return err
	}
	return nil
}

// verifyLocation is the page where a code for (typ, target) is entered.
func verifyLocation(typ verify.Type, target, code, redirectTo string) string {
	q := url.Values{"type": {string(typ)}, "target": {target}}
	if code != "" {
		q.Set("code", code)
	}
	if redirectTo != "" {
		q.Set("redirectTo", redirectTo)
	}
	return VerifyPath + "?" + q.Encode()
}

func (h *Handlers) loginPage(w http.ResponseWriter, r *http.Request) error {
	if err := h.sessions.RequireAnonymous(w, r); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"redirectTo": r.URL.Query().Get("redirectTo"),
	})
	return nil
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) error {
	if err := h.checkSpam(r); err != nil {
		return err
	}
	if err := h.sessions.RequireAnonymous(w, r); err != nil {
		return err
	}

	username, pw := r.PostFormValue("username"), r.PostFormValue("password")
	if username == "" {
		return &ValidationError{Field: "username", Message: "Username is required"}
	}
	if pw == "" {
		return &ValidationError{Field: "password", Message: "Password is required"}
	}

	sess, err := h.service.Login(r.Context(), username, pw, session.MetaFromRequest(r))
	if errors.Is(err, ErrInvalidCredentials) {
		return &FormError{Status: http.StatusBadRequest, Message: "Invalid username or password"}
	}
	if err != nil {
		return err
	}

	if err := h.sessions.Commit(w, sess, formBool(r, "remember")); err != nil {
		return err
	}
	return httpx.NewRedirect(httpx.SafeRedirect(r.PostFormValue("redirectTo"), session.HomePath))
}

func (h *Handlers) signupPage(w http.ResponseWriter, r *http.Request) error {
	if err := h.sessions.RequireAnonymous(w, r); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{})
	return nil
}

// signup starts onboarding: it emails a code to the address and sends the
// browser to the verify page.
func (h *Handlers) signup(w http.ResponseWriter, r *http.Request) error {
	if err := h.checkSpam(r); err != nil {
		return err
	}
	if err := h.sessions.RequireAnonymous(w, r); err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(r.PostFormValue("email")))
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := h.service.CheckAvailable(r.Context(), email, ""); err != nil {
		return err
	}

	redirectTo := r.PostFormValue("redirectTo")
	code, err := h.verifier.Issue(r.Context(), w, verify.Challenge{Type: verify.TypeOnboarding, Target: email})
	if err != nil {
		return err
	}

	link := h.baseURL + verifyLocation(verify.TypeOnboarding, email, code, redirectTo)
	if err := h.mailer.Send(r.Context(), onboardingEmail(email, code, link)); err != nil {
		return fmt.Errorf("failed to send onboarding email: %w", err)
	}

	return httpx.NewRedirect(verifyLocation(verify.TypeOnboarding, email, "", redirectTo))
}

func (h *Handlers) verifyPage(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"type":       q.Get("type"),
		"target":     q.Get("target"),
		"code":       q.Get("code"),
		"redirectTo": q.Get("redirectTo"),
	})
	return nil
}

// verify validates a submitted code and hands off to the flow it belongs to.
func (h *Handlers) verify(w http.ResponseWriter, r *http.Request) error {
	if err := h.checkSpam(r); err != nil {
		return err
	}

	typ, err := verify.ParseType(r.PostFormValue("type"))
	if err != nil {
		return err
	}
	target := r.PostFormValue("target")

	// an email change belongs to a signed-in person; check before spending the code
	var id session.Identity
	if typ == verify.TypeChangeEmail {
		if id, err = h.sessions.RequireIdentity(w, r, session.RequireOptions{}); err != nil {
			return err
		}
		if target != id.PersonID.String() {
			return verify.ErrMismatch
		}
	}

	payload, err := h.verifier.Validate(r.Context(), r, r.PostFormValue("code"), typ, target)
	if err != nil {
		return err
	}

	switch typ {
	case verify.TypeOnboarding:
		return h.completeOnboardingVerification(w, r, payload, target)
	case verify.TypeChangeEmail:
		return h.completeChangeEmail(w, r, id, payload, target)
	}
	return verify.ErrUnsupportedType
}

func (h *Handlers) completeOnboardingVerification(w http.ResponseWriter, r *http.Request, payload *verify.Payload, target string) error {
	if payload == nil {
		payload = h.verifier.NewPayload(verify.TypeOnboarding, target, nil)
	}
	if err := h.verifier.MarkVerified(w, payload); err != nil {
		return err
	}

	location := OnboardingPath
	if to := r.PostFormValue("redirectTo"); to != "" {
		location += "?" + url.Values{"redirectTo": {to}}.Encode()
	}
	return httpx.NewRedirect(location)
}

// completeChangeEmail applies a verified email change. The new address only
// exists in the verification cookie, so the code must be submitted from the
// browser that requested the change.
func (h *Handlers) completeChangeEmail(w http.ResponseWriter, r *http.Request, id session.Identity, payload *verify.Payload, target string) error {
	recent, err := h.verifier.RecentlyVerified(r.Context(), verify.TypeChangeEmail, target, h.verifier.TTL())
	if err != nil {
		return err
	}
	if !recent {
		return verify.ErrMismatch
	}

	if payload == nil || payload.Data[verify.NewEmailAddressKey] == "" {
		return &FormError{
			Status:  http.StatusBadRequest,
			Message: "You must submit the code on the same device that requested the email change.",
		}
	}

	if _, err := h.service.ChangeEmail(r.Context(), id.PersonID, payload.Data[verify.NewEmailAddressKey]); err != nil {
		return err
	}

	if err := h.verifier.Discard(w, r); err != nil {
		return err
	}
	return httpx.NewRedirect(ProfilePath)
}

// requireOnboardingEmail returns the verified onboarding payload, sending the
// browser back to signup when there is none.
func (h *Handlers) requireOnboardingEmail(w http.ResponseWriter, r *http.Request) (*verify.Payload, error) {
	if err := h.sessions.RequireAnonymous(w, r); err != nil {
		return nil, err
	}
	payload, err := h.verifier.PendingVerified(r, verify.TypeOnboarding)
	if errors.Is(err, verify.ErrNoPending) {
		return nil, httpx.NewRedirect(SignupPath)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (h *Handlers) onboardingPage(w http.ResponseWriter, r *http.Request) error {
	payload, err := h.requireOnboardingEmail(w, r)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"email": payload.Target})
	return nil
}

func (h *Handlers) onboarding(w http.ResponseWriter, r *http.Request) error {
	payload, err := h.requireOnboardingEmail(w, r)
	if err != nil {
		return err
	}
	if err := h.checkSpam(r); err != nil {
		return err
	}

	pw := r.PostFormValue("password")
	if pw != r.PostFormValue("confirmPassword") {
		return &ValidationError{Field: "confirmPassword", Message: "The passwords must match"}
	}
	if !formBool(r, "agreeToTermsOfServiceAndPrivacyPolicy") {
		return &ValidationError{
			Field:   "agreeToTermsOfServiceAndPrivacyPolicy",
			Message: "You must agree to the terms of service and privacy policy",
		}
	}

	sess, err := h.service.Signup(r.Context(), SignupInput{
		Email:    payload.Target,
		Username: r.PostFormValue("username"),
		Password: pw,
	}, session.MetaFromRequest(r))
	if err != nil {
		return err
	}

	if err := h.sessions.Commit(w, sess, formBool(r, "remember")); err != nil {
		return err
	}
	if err := h.verifier.Discard(w, r); err != nil {
		return err
	}
	return httpx.NewRedirect(httpx.SafeRedirect(r.PostFormValue("redirectTo"), session.HomePath))
}

func (h *Handlers) logoutPage(w http.ResponseWriter, r *http.Request) error {
	return httpx.NewRedirect(session.HomePath)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) error {
	redirect, err := h.sessions.Logout(r, session.LogoutOptions{RedirectTo: r.PostFormValue("redirectTo")})
	if err != nil {
		return err
	}
	return redirect
}

type profileResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	Roles     []string  `json:"roles,omitempty"`
}

func (h *Handlers) profileBody(r *http.Request, personID uuid.UUID, withRoles bool) (*profileResponse, error) {
	person, err := h.service.Profile(r.Context(), personID)
	if err != nil {
		return nil, err
	}
	body := &profileResponse{
		ID:        person.PersonID,
		Username:  person.Username,
		Email:     person.Email,
		CreatedAt: person.CreatedAt.UTC(),
	}
	if withRoles {
		if body.Roles, err = h.service.Roles(r.Context(), personID); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (h *Handlers) profile(w http.ResponseWriter, r *http.Request) error {
	id, err := h.sessions.RequireIdentity(w, r, session.RequireOptions{})
	if err != nil {
		return err
	}
	body, err := h.profileBody(r, id.PersonID, false)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, body)
	return nil
}

// changeEmail emails a code to the new address. The address itself is kept
// in the verification cookie until the code comes back.
func (h *Handlers) changeEmail(w http.ResponseWriter, r *http.Request) error {
	id, err := h.sessions.RequireIdentity(w, r, session.RequireOptions{})
	if err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(r.PostFormValue("email")))
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := h.service.CheckAvailable(r.Context(), email, ""); err != nil {
		return err
	}

	target := id.PersonID.String()
	code, err := h.verifier.Issue(r.Context(), w, verify.Challenge{
		Type:   verify.TypeChangeEmail,
		Target: target,
		Data:   map[string]string{verify.NewEmailAddressKey: email},
	})
	if err != nil {
		return err
	}

	link := h.baseURL + verifyLocation(verify.TypeChangeEmail, target, code, "")
	if err := h.mailer.Send(r.Context(), changeEmailEmail(email, code, link)); err != nil {
		return fmt.Errorf("failed to send change email verification: %w", err)
	}

	return httpx.NewRedirect(verifyLocation(verify.TypeChangeEmail, target, "", ""))
}

func (h *Handlers) changeUsername(w http.ResponseWriter, r *http.Request) error {
	id, err := h.sessions.RequireIdentity(w, r, session.RequireOptions{})
	if err != nil {
		return err
	}
	if err := h.service.ChangeUsername(r.Context(), id.PersonID, r.PostFormValue("username")); err != nil {
		return err
	}
	return httpx.NewRedirect(ProfilePath)
}

func (h *Handlers) deleteAccount(w http.ResponseWriter, r *http.Request) error {
	id, err := h.sessions.RequireIdentity(w, r, session.RequireOptions{})
	if err != nil {
		return err
	}
	if err := h.service.DeleteAccount(r.Context(), id.PersonID); err != nil {
		return err
	}
	redirect, err := h.sessions.Logout(r, session.LogoutOptions{})
	if err != nil {
		return err
	}
	return redirect
}

type permissionsResponse struct {
	IsOwner   bool `json:"isOwner"`
	CanCreate bool `json:"canCreate"`
	CanRead   bool `json:"canRead"`
	CanUpdate bool `json:"canUpdate"`
	CanDelete bool `json:"canDelete"`
}

// permissions reports which note actions the caller may take on another
// person's notes, scoped to own or any by ownership.
func (h *Handlers) permissions(w http.ResponseWriter, r *http.Request) error {
	id, err := h.sessions.RequireIdentity(w, r, session.RequireOptions{})
	if err != nil {
		return err
	}

	owner, err := h.service.PersonByUsername(r.Context(), r.PathValue("username"))
	if errors.Is(err, store.ErrPersonNotFound) {
		return &FormError{Status: http.StatusNotFound, Message: "user not found"}
	}
	if err != nil {
		return err
	}

	resp := permissionsResponse{IsOwner: owner.PersonID == id.PersonID}
	checks := []struct {
		action auth.Action
		dst    *bool
	}{
		{auth.ActionCreate, &resp.CanCreate},
		{auth.ActionRead, &resp.CanRead},
		{auth.ActionUpdate, &resp.CanUpdate},
		{auth.ActionDelete, &resp.CanDelete},
	}
	for _, c := range checks {
		perm := auth.Permission{Action: c.action, Entity: auth.EntityNote}.Scoped(resp.IsOwner)
		if *c.dst, err = h.authz.Can(r.Context(), id.PersonID, perm); err != nil {
			return err
		}
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
	return nil
}

var errUnauthenticated = &FormError{Status: http.StatusUnauthorized, Message: "unauthenticated"}

func (h *Handlers) me(w http.ResponseWriter, r *http.Request) error {
	id, ok, err := h.sessions.ResolveIdentity(w, r)
	if err != nil {
		return err
	}
	if !ok {
		return errUnauthenticated
	}
	body, err := h.profileBody(r, id.PersonID, true)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, body)
	return nil
}

func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) error {
	id, ok, err := h.sessions.ResolveIdentity(w, r)
	if err != nil {
		return err
	}
	if !ok {
		return errUnauthenticated
	}

	perm, err := auth.ParsePermission(r.URL.Query().Get("permission"))
	if err != nil {
		return &FormError{Status: http.StatusBadRequest, Message: err.Error()}
	}

	if _, err := h.authz.Authorize(r.Context(), id.PersonID, perm); err != nil {
		return err
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"authorized":         true,
		"requiredPermission": perm,
	})
	return nil
}
