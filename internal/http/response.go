package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"
)

// Redirect is returned by guards and flows to end the request with a redirect.
// It is a control-flow signal rather than a failure; WriteError renders it.
type Redirect struct {
	Location string
	Status   int
	Header   http.Header
}

// NewRedirect creates a 302 redirect to location.
func NewRedirect(location string) *Redirect {
	return &Redirect{Location: location, Status: http.StatusFound, Header: http.Header{}}
}

func (r *Redirect) Error() string {
	return "redirect to " + r.Location
}

// WithHeader merges extra response headers into the redirect.
func (r *Redirect) WithHeader(h http.Header) *Redirect {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	for k, vs := range h {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return r
}

// StatusError is implemented by errors that carry their own HTTP status and JSON body.
type StatusError interface {
	error
	StatusCode() int
	ResponseBody() any
}

// ErrorBody is the generic JSON error payload.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteRedirect sends the redirect along with its headers.
func WriteRedirect(w http.ResponseWriter, r *http.Request, redirect *Redirect) {
	for k, vs := range redirect.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := redirect.Status
	if status == 0 {
		status = http.StatusFound
	}
	http.Redirect(w, r, redirect.Location, status)
}

// WriteError renders err. Redirects and StatusErrors are sent as-is; anything
// else is logged and reported as a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var redirect *Redirect
	if errors.As(err, &redirect) {
		WriteRedirect(w, r, redirect)
		return
	}

	var statusErr StatusError
	if errors.As(err, &statusErr) {
		WriteJSON(w, statusErr.StatusCode(), statusErr.ResponseBody())
		return
	}

	hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal server error"})
}

// SafeRedirect returns to when it is a local absolute path, otherwise fallback.
// Protocol-relative targets such as //evil.example are rejected.
func SafeRedirect(to, fallback string) string {
	if fallback == "" {
		fallback = "/"
	}
	if !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") || strings.HasPrefix(to, "/\\") {
		return fallback
	}
	return to
}

// HandlerFunc is an http.HandlerFunc that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler, rendering any returned error with WriteError.
func (fn HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		WriteError(w, r, err)
	}
}
