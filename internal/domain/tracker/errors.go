package tracker

import "errors"

// Sentinel kinds for tracker errors.
var (
	ErrTerminalState     = errors.New("event is in a terminal state")
	ErrInvalidTransition = errors.New("invalid sequence transition")
	ErrNotFound          = errors.New("event not found")
)
