package domain

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInput means a required upload was missing, empty or of an unsupported type.
	ErrInput = goerr.New("invalid input")
	// ErrAuth means no usable credential is configured for generation.
	ErrAuth = goerr.New("credential missing or rejected")
	// ErrUpstream means the generation call itself failed.
	ErrUpstream = goerr.New("generation request failed")
	// ErrPrecondition means the operation was invoked before the session was ready.
	ErrPrecondition = goerr.New("session not ready")
	// ErrNothingLogged means the daily summary was requested with an empty ledger.
	ErrNothingLogged = goerr.New("no meals logged yet")
)

// Upstream classifies cause as an ErrUpstream failure while keeping cause in
// the chain, so errors.Is matches both.
func Upstream(cause error) error {
	return fmt.Errorf("%w: %w", ErrUpstream, cause)
}

// Auth classifies cause as an ErrAuth failure.
func Auth(cause error) error {
	return fmt.Errorf("%w: %w", ErrAuth, cause)
}
