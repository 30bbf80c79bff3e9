package settlement

import "errors"

// Failure taxonomy. Every precondition violation aborts the whole call with
// no state mutation and no event emission; callers match with errors.Is.
var (
	// ErrInvalidConstruction is returned by New when a required collaborator
	// is missing.
	ErrInvalidConstruction = errors.New("invalid construction")
	// ErrInvalidPolicy rejects a policy update that violates an invariant.
	ErrInvalidPolicy = errors.New("invalid policy")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidRecipient rejects empty or malformed recipients.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrBelowMinimum rejects transfers under the policy minimum.
	ErrBelowMinimum = errors.New("amount below minimum transfer amount")
	// ErrExceedsMaximum rejects transfers over the effective maximum.
	ErrExceedsMaximum = errors.New("amount exceeds effective maximum transfer amount")
	// ErrInsufficientReserve rejects transfers larger than the live reserve.
	ErrInsufficientReserve = errors.New("insufficient reserve")
	// ErrTransferFailed reports a collaborator-side transfer failure.
	ErrTransferFailed = errors.New("token transfer failed")
	// ErrHalted blocks releases while the circuit breaker is open.
	ErrHalted = errors.New("engine halted")
	// ErrBelowEmergencyThreshold blocks manual resume under the safety floor.
	ErrBelowEmergencyThreshold = errors.New("reserve below emergency threshold")
)
