package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutorClosed is returned when using a closed executor.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrModuleNotAllowed is returned by require for modules outside the
	// whitelist and the module root.
	ErrModuleNotAllowed = errors.New("module is not available")
)
