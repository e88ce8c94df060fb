package localization

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrOutOfOrder = errors.New("localization revision regression")
	ErrNotFound   = errors.New("localization not found")
)
