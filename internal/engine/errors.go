package engine

import "errors"

// Errors surfaced by engine operations. Every public operation fails with
// exactly one of these (or a poll/platform error), never a generic failure,
// so callers can branch: retry, give up, or recreate the context.
var (
	// ErrInvalidContext means the execution context is missing or not in a
	// usable state for command submission.
	ErrInvalidContext = errors.New("execution context is not running")
	// ErrContextCreation means the platform failed to bring a new execution
	// context to the running state.
	ErrContextCreation = errors.New("execution context creation failed")
	// ErrContextLost means the context backing an in-flight command
	// disappeared, typically because the cluster restarted.
	ErrContextLost = errors.New("execution context lost")
	// ErrUnsupportedLanguage rejects languages the command API does not accept.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrNoWarehouse means statement submission had no warehouse to target.
	ErrNoWarehouse = errors.New("no warehouse specified or configured")
	// ErrBadPageToken rejects malformed statement page tokens.
	ErrBadPageToken = errors.New("malformed result page token")
)
