package login

import (
	"net/mail"
	"regexp"

	"github.com/wolfeidau/portcullis/internal/password"
)

const (
	UsernameMinLength = 3
	UsernameMaxLength = 20
	PasswordMinLength = 6
	EmailMaxLength    = 100
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateUsername checks a normalized username.
func ValidateUsername(username string) error {
	switch {
	case len(username) < UsernameMinLength:
		return &ValidationError{Field: "username", Message: "Username is too short"}
	case len(username) > UsernameMaxLength:
		return &ValidationError{Field: "username", Message: "Username is too long"}
	case !usernamePattern.MatchString(username):
		return &ValidationError{Field: "username", Message: "Username can only include letters, numbers, and underscores"}
	}
	return nil
}

// ValidateEmail checks a normalized email address.
func ValidateEmail(email string) error {
	if len(email) > EmailMaxLength {
		return &ValidationError{Field: "email", Message: "Email is too long"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "Email is invalid"}
	}
	return nil
}

// ValidatePassword checks password length limits.
func ValidatePassword(pw string) error {
	switch {
	case len(pw) < PasswordMinLength:
		return &ValidationError{Field: "password", Message: "Password is too short"}
	case len(pw) > password.MaxLength:
		return &ValidationError{Field: "password", Message: "Password is too long"}
	}
	return nil
}
