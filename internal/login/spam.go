package login

import (
	"net/http"
)

// DefaultHoneypotField is the hidden form field bots tend to fill in.
const DefaultHoneypotField = "name__confirm"

// ErrSpam is returned when a form submission fails the spam check.
var ErrSpam = &FormError{Status: http.StatusBadRequest, Message: "Form not submitted properly"}

// SpamChecker rejects automated form submissions before any auth logic runs.
type SpamChecker interface {
	Check(r *http.Request) error
}

// HoneypotChecker fails any submission that fills in a hidden field.
type HoneypotChecker struct {
	Field string
}

// Check implements SpamChecker.
func (c HoneypotChecker) Check(r *http.Request) error {
	field := c.Field
	if field == "" {
		field = DefaultHoneypotField
	}
	if r.PostFormValue(field) != "" {
		return ErrSpam
	}
	return nil
}
