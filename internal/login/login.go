// Package login orchestrates credentials, sessions, permissions and
// verification codes into the account flows: login, signup, logout,
// onboarding and email change.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/auth"
	"github.com/wolfeidau/portcullis/internal/mail"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/password"
	"github.com/wolfeidau/portcullis/internal/session"
	"github.com/wolfeidau/portcullis/internal/store"
	"github.com/wolfeidau/portcullis/internal/telemetry"
)

var (
	PermUpdateOwnUser = auth.MustParse("update:user:own")
	PermDeleteOwnUser = auth.MustParse("delete:user:own")
)

// Service implements the account operations without any HTTP concerns.
type Service struct {
	stores   store.Stores
	sessions *session.Manager
	authz    *auth.Authorizer
	catalog  *auth.Catalog
	mailer   mail.Sender
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Stores   store.Stores
	Sessions *session.Manager
	Authz    *auth.Authorizer
	Catalog  *auth.Catalog
	Mailer   mail.Sender
}

// NewService creates the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Stores.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sessions == nil || cfg.Authz == nil || cfg.Catalog == nil {
		return nil, errors.New("sessions, authz and catalog are required")
	}
	if cfg.Mailer == nil {
		cfg.Mailer = mail.LogSender{}
	}
	return &Service{
		stores:   cfg.Stores,
		sessions: cfg.Sessions,
		authz:    cfg.Authz,
		catalog:  cfg.Catalog,
		mailer:   cfg.Mailer,
	}, nil
}

// Login verifies the credentials and starts a session. A missing account and
// a wrong password both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, pw string, meta session.Meta) (*models.Session, error) {
	metrics := telemetry.GetMetrics()

	personID, err := s.verifyPassword(ctx, models.NormalizeUsername(username), pw)
	if err != nil {
		telemetry.RecordResult(ctx, metrics.LoginsTotal, false)
		return nil, err
	}

	sess, err := s.sessions.CreateSession(ctx, personID, meta)
	if err != nil {
		telemetry.RecordResult(ctx, metrics.LoginsTotal, false)
		return nil, err
	}

	telemetry.RecordResult(ctx, metrics.LoginsTotal, true)
	log.Info().Str("person_id", personID.String()).Msg("Person logged in")

	return sess, nil
}

func (s *Service) verifyPassword(ctx context.Context, username, pw string) (uuid.UUID, error) {
	cred, err := s.stores.Credentials.GetByUsername(ctx, username)
	if errors.Is(err, store.ErrCredentialNotFound) {
		password.VerifyMissing(pw)
		return uuid.Nil, ErrInvalidCredentials
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if !password.Verify(pw, cred.Hash) {
		return uuid.Nil, ErrInvalidCredentials
	}
	return cred.PersonID, nil
}

// SignupInput is the data collected by the onboarding form.
type SignupInput struct {
	Email    string
	Username string
	Password string
}

func (in SignupInput) normalize() SignupInput {
	return SignupInput{
		Email:    models.NormalizeEmail(in.Email),
		Username: models.NormalizeUsername(in.Username),
		Password: in.Password,
	}
}

// Validate checks every field, returning the first *ValidationError.
func (in SignupInput) Validate() error {
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if err := ValidateUsername(in.Username); err != nil {
		return err
	}
	return ValidatePassword(in.Password)
}

// Signup creates the person, their credential, their default role and a
// session in one transaction. Uniqueness violations become a *ValidationError;
// any other failure rolls everything back.
func (s *Service) Signup(ctx context.Context, in SignupInput, meta session.Meta) (*models.Session, error) {
	metrics := telemetry.GetMetrics()

	var sess *models.Session
	_, err := s.createAccount(ctx, in, nil, func(ctx context.Context, tx store.Tx, personID uuid.UUID) error {
		var err error
		sess, err = s.sessions.CreateSessionWith(ctx, tx.Sessions, personID, meta)
		return err
	})
	if err != nil {
		telemetry.RecordResult(ctx, metrics.SignupsTotal, false)
		return nil, err
	}

	telemetry.RecordResult(ctx, metrics.SignupsTotal, true)
	log.Info().Str("person_id", sess.PersonID.String()).Msg("Person signed up")

	return sess, nil
}

// CreateAccount creates a person with their credential, the default role and
// any extra roles, without starting a session. It backs operator seeding.
func (s *Service) CreateAccount(ctx context.Context, in SignupInput, roles ...string) (uuid.UUID, error) {
	personID, err := s.createAccount(ctx, in, roles, nil)
	if err != nil {
		return uuid.Nil, err
	}
	log.Info().Str("person_id", personID.String()).Strs("roles", roles).Msg("Account created")
	return personID, nil
}

func (s *Service) createAccount(ctx context.Context, in SignupInput, roles []string, then func(ctx context.Context, tx store.Tx, personID uuid.UUID) error) (uuid.UUID, error) {
	in = in.normalize()
	if err := in.Validate(); err != nil {
		return uuid.Nil, err
	}

	start := time.Now()
	hash, err := password.Hash(in.Password)
	telemetry.GetMetrics().PasswordHashDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return uuid.Nil, err
	}

	personID, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate person id: %w", err)
	}

	now := time.Now().UTC()
	err = s.stores.Transactor.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		err := tx.Persons.Create(ctx, &models.Person{
			PersonID:  personID,
			Username:  in.Username,
			Email:     in.Email,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}

		if err := tx.Credentials.Create(ctx, &models.Credential{PersonID: personID, Hash: hash}); err != nil {
			return err
		}

		if err := s.catalog.AssignDefaultRole(ctx, tx.RBAC, personID); err != nil {
			return err
		}
		for _, role := range roles {
			if err := auth.AssignRole(ctx, tx.RBAC, personID, role); err != nil {
				return err
			}
		}

		if then != nil {
			return then(ctx, tx, personID)
		}
		return nil
	})
	if err != nil {
		if verr := conflictError(err); verr != nil {
			return uuid.Nil, verr
		}
		return uuid.Nil, fmt.Errorf("signup transaction failed: %w", err)
	}

	return personID, nil
}

func conflictError(err error) error {
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		return &ValidationError{Field: "username", Message: "A user already exists with this username", Err: err}
	case errors.Is(err, store.ErrEmailTaken):
		return &ValidationError{Field: "email", Message: "A user already exists with this email", Err: err}
	}
	return nil
}

// CheckAvailable reports a *ValidationError when the email or username is
// already in use. Empty arguments are skipped. The result is advisory: the
// store's unique constraints make the final decision at insert time.
func (s *Service) CheckAvailable(ctx context.Context, email, username string) error {
	if email != "" {
		_, err := s.stores.Persons.GetByEmail(ctx, models.NormalizeEmail(email))
		if err == nil {
			return conflictError(store.ErrEmailTaken)
		}
		if !errors.Is(err, store.ErrPersonNotFound) {
			return fmt.Errorf("failed to check email: %w", err)
		}
	}
	if username != "" {
		_, err := s.stores.Persons.GetByUsername(ctx, models.NormalizeUsername(username))
		if err == nil {
			return conflictError(store.ErrUsernameTaken)
		}
		if !errors.Is(err, store.ErrPersonNotFound) {
			return fmt.Errorf("failed to check username: %w", err)
		}
	}
	return nil
}

// Profile returns the person behind an identity.
func (s *Service) Profile(ctx context.Context, personID uuid.UUID) (*models.Person, error) {
	person, err := s.stores.Persons.Get(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return person, nil
}

// PersonByUsername looks a person up by username. It returns
// store.ErrPersonNotFound when there is none.
func (s *Service) PersonByUsername(ctx context.Context, username string) (*models.Person, error) {
	person, err := s.stores.Persons.GetByUsername(ctx, models.NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return person, nil
}

// Roles returns the names of the roles assigned to a person.
func (s *Service) Roles(ctx context.Context, personID uuid.UUID) ([]string, error) {
	roles, err := s.stores.RBAC.RolesForPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// ChangeEmail moves a person to a new address and notifies both the old and
// the new one. It returns the old address.
func (s *Service) ChangeEmail(ctx context.Context, personID uuid.UUID, newEmail string) (string, error) {
	newEmail = models.NormalizeEmail(newEmail)
	if err := ValidateEmail(newEmail); err != nil {
		return "", err
	}

	person, err := s.Profile(ctx, personID)
	if err != nil {
		return "", err
	}

	if err := s.stores.Persons.UpdateEmail(ctx, personID, newEmail); err != nil {
		if verr := conflictError(err); verr != nil {
			return "", verr
		}
		return "", fmt.Errorf("failed to update email: %w", err)
	}

	log.Info().Str("person_id", personID.String()).Msg("Email changed")

	for _, to := range []string{person.Email, newEmail} {
		if err := s.mailer.Send(ctx, emailChangedNotice(to, personID.String())); err != nil {
			log.Error().Err(err).Str("person_id", personID.String()).Msg("Failed to send email change notice")
		}
	}

	return person.Email, nil
}

// ChangeUsername renames a person. It requires update:user:own.
func (s *Service) ChangeUsername(ctx context.Context, personID uuid.UUID, username string) error {
	if _, err := s.authz.Authorize(ctx, personID, PermUpdateOwnUser); err != nil {
		return err
	}

	username = models.NormalizeUsername(username)
	if err := ValidateUsername(username); err != nil {
		return err
	}

	if err := s.stores.Persons.UpdateUsername(ctx, personID, username); err != nil {
		if verr := conflictError(err); verr != nil {
			return verr
		}
		return fmt.Errorf("failed to update username: %w", err)
	}
	return nil
}

// DeleteAccount removes a person along with their credential, sessions and
// role assignments. It requires delete:user:own.
func (s *Service) DeleteAccount(ctx context.Context, personID uuid.UUID) error {
	if _, err := s.authz.Authorize(ctx, personID, PermDeleteOwnUser); err != nil {
		return err
	}

	if err := s.stores.Persons.Delete(ctx, personID); err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}

	log.Info().Str("person_id", personID.String()).Msg("Account deleted")
	return nil
}
