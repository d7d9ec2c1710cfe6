package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevices is returned when initialization yields a dataset without meters.
	ErrNoDevices = errors.New("no meters returned by the Hydrolink API")
	// ErrStopped is returned for operations on an account that has been shut down.
	ErrStopped = errors.New("account has been shut down")
)

// AuthErrorKind distinguishes the two ways a login can fail
type AuthErrorKind int

const (
	// AuthRejected covers transport failures and non-200 responses.
	AuthRejected AuthErrorKind = iota
	// AuthMalformed covers a 200 response without a usable token.
	AuthMalformed
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthRejected:
		return "rejected"
	case AuthMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// AuthError represents a failed login attempt
type AuthError struct {
	Kind       AuthErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("login %s: %v", e.Kind, e.Err)
	case e.Kind == AuthMalformed:
		return "login failed: token not found in the response"
	default:
		return fmt.Sprintf("login failed: %d - %s", e.StatusCode, e.Body)
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// FetchError represents a failed meter data request
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch meter data: %v", e.Err)
	}
	return fmt.Sprintf("failed to fetch meter data: %d - %s", e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when a meter is absent from the latest dataset
type NotFoundError struct {
	DeviceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("meter %s not found in the latest meter data", e.DeviceID)
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
