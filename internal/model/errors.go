package model

import "errors"

// Common errors used across the application
var (
	// Request errors
	ErrValidation = errors.New("validation error")

	// Lookup errors
	ErrTimerNotFound   = errors.New("timer not found")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrContextNotFound = errors.New("context not found")

	// Access errors
	ErrAccessDenied = errors.New("access denied")

	// Timer state errors
	ErrAlreadyStarted     = errors.New("timer already started")
	ErrAlreadyStopped     = errors.New("timer already stopped")
	ErrRanOut             = errors.New("timer has run out of time")
	ErrInvalidPermutation = errors.New("turn orders must form a dense 0..N-1 permutation")

	// Session errors
	ErrAlreadyFollowing = errors.New("cannot follow more than one timer at a time")
	ErrNotFollowing     = errors.New("not following any timer")

	// Persistence errors
	ErrConcurrencyAborted = errors.New("unit of work aborted")
)
