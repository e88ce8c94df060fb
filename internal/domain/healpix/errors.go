package healpix

import "errors"

// Sentinel kinds for pixelization errors.
var (
	ErrCoordinate   = errors.New("unresolvable sky coordinates")
	ErrInvalidPixel = errors.New("invalid pixel encoding")
)
