package solarwatt

import (
	"errors"
	"fmt"
)

var ErrClientClosed = errors.New("solarwatt: client closed")

// AuthenticationError is returned when the gateway rejects a login or the answer is ambiguous.
type AuthenticationError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := "solarwatt: authentication failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// FetchError is returned by data calls on a non-success status or an unparsable body.
// SessionExpired marks answers that look like the session cookie is no longer valid.
type FetchError struct {
	Resource       string
	StatusCode     int
	Reason         string
	SessionExpired bool
	Err            error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("solarwatt: fetch %s failed", e.Resource)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func IsSessionExpired(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.SessionExpired
}
