package skymap

import "errors"

// Sentinel kinds for skymap errors.
var (
	ErrFormat = errors.New("malformed skymap")
)
