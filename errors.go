package coffer

import (
	"errors"
	"fmt"

	"github.com/xraph/coffer/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("coffer: not found")
	ErrInvalidInput = errors.New("coffer: invalid input")
	ErrInvalidState = errors.New("coffer: invalid state")

	// Balance errors
	ErrInsufficientCredits = errors.New("coffer: insufficient credits")

	// Entity lookups
	ErrWorkspaceNotFound   = errors.New("coffer: workspace not found")
	ErrTransactionNotFound = errors.New("coffer: transaction not found")
	ErrInstrumentNotFound  = errors.New("coffer: instrument not found")
	ErrEffectNotFound      = errors.New("coffer: effect not found")
	ErrEventNotFound       = errors.New("coffer: no active event")
	ErrPlanNotFound        = errors.New("coffer: plan not found")

	// State machine errors
	ErrNotPending   = errors.New("coffer: transaction is not a pending credit")
	ErrEventActive  = errors.New("coffer: an event is already active")
	ErrEventExpired = errors.New("coffer: event has expired")
	ErrEventClosed  = errors.New("coffer: event is concluded")

	// Store errors
	ErrStorageConflict = errors.New("coffer: storage conflict")
	ErrStoreClosed     = errors.New("coffer: store is closed")
	ErrAlreadyExists   = errors.New("coffer: already exists")

	// Configuration errors
	ErrConfiguration = errors.New("coffer: configuration error")
)

// ValidationError represents an input validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("coffer: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error {
	return ValidationError{Field: field, Message: msg}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWorkspaceNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrInstrumentNotFound) ||
		errors.Is(err, ErrEffectNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsInvalidState returns true if the error is a state machine violation.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrEventActive) ||
		errors.Is(err, ErrEventExpired) ||
		errors.Is(err, ErrEventClosed)
}

// IsInsufficientCredits returns true if the caller should offer a top-up.
func IsInsufficientCredits(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

// IsInvalidInput returns true if the request itself was malformed or an
// amount fell outside the representable range.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, types.ErrOverflow)
}

// IsConfigurationError returns true for static configuration problems.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrPlanNotFound)
}

// IsRetryable returns true if the whole atomic unit can safely be run again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}
