// Package credential resolves the caller's identity from an HTTP request.
package credential

import (
	"errors"
	"net/http"
)

var (
	ErrNoCredentials      = errors.New("no credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Verifier returns the user id a request is authenticated as.
type Verifier interface {
	Verify(r *http.Request) (string, error)
}

// QueryVerifier trusts the userId query parameter. For development and tests only.
type QueryVerifier struct{}

func (QueryVerifier) Verify(r *http.Request) (string, error) {
	id := r.URL.Query().Get("userId")
	if id == "" {
		id = r.Header.Get("X-User-Id")
	}
	if id == "" {
		return "", ErrNoCredentials
	}
	return id, nil
}
