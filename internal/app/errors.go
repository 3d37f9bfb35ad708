package app

import "errors"

var (
	// ErrAuthRequired indicates no user is signed in; nothing touches the
	// network or the store until one is.
	ErrAuthRequired = errors.New("authentication required")

	// ErrGenerationInFlight indicates a generation turn is already running.
	// The rejected call leaves all state untouched.
	ErrGenerationInFlight = errors.New("generation already in flight")

	// ErrNotInitialized indicates Init has not completed for this app.
	ErrNotInitialized = errors.New("app not initialized")

	// ErrIllegalTransition indicates a phase change the machine does not
	// allow. Seeing it means a programming bug, not a user error.
	ErrIllegalTransition = errors.New("illegal phase transition")
)
