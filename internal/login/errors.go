package login

import (
	"errors"
	"net/http"

	httpx "github.com/wolfeidau/portcullis/internal/http"
)

// ErrInvalidCredentials covers both an unknown username and a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ValidationError is a field-scoped rejection of user input, including
// uniqueness conflicts reported by the store.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StatusCode implements httpx.StatusError.
func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// ValidationBody is the JSON payload of a 400 validation response.
type ValidationBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

// ResponseBody implements httpx.StatusError.
func (e *ValidationError) ResponseBody() any {
	return ValidationBody{
		Error:  "validation failed",
		Fields: map[string]string{e.Field: e.Message},
	}
}

// FormError is a form-level rejection with a message safe to show the user.
type FormError struct {
	Status  int
	Message string
}

func (e *FormError) Error() string {
	return e.Message
}

// StatusCode implements httpx.StatusError.
func (e *FormError) StatusCode() int {
	return e.Status
}

// ResponseBody implements httpx.StatusError.
func (e *FormError) ResponseBody() any {
	return httpx.ErrorBody{Error: e.Message}
}

var (
	_ httpx.StatusError = (*ValidationError)(nil)
	_ httpx.StatusError = (*FormError)(nil)
)
