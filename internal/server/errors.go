// Package server classifies failures so handlers can map them onto the wire:
// authentication failures become HTTP 401 before the upgrade, everything else
// becomes an error event on the socket.
package server

import "errors"

// Error classes surfaced by the realtime engine.
var (
	ErrAuth         = errors.New("authentication failed")
	ErrValidation   = errors.New("invalid input")
	ErrNotPermitted = errors.New("not permitted")
	ErrRateLimited  = errors.New("rate limited")
)

// wireError pairs an error class with the message echoed to the client.
type wireError struct {
	class error
	msg   string
}

func (e *wireError) Error() string { return e.msg }
func (e *wireError) Unwrap() error { return e.class }

func validationError(msg string) error {
	return &wireError{class: ErrValidation, msg: msg}
}

func permissionError(msg string) error {
	return &wireError{class: ErrNotPermitted, msg: msg}
}

func rateLimitError(msg string) error {
	return &wireError{class: ErrRateLimited, msg: msg}
}

// userFacingMessage returns the text safe to echo to a client for err.
// Persistence and other internal failures are never exposed verbatim.
func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotPermitted), errors.Is(err, ErrRateLimited):
		return err.Error()
	default:
		return "internal server error"
	}
}
