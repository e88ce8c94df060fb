package testalerts

import "time"

// HTTP status code constants.
const (
	StatusOK       = 200
	StatusAccepted = 202
)

// Runner configuration constants.
const (
	MatchSettleDelay     = 3 * time.Second
	PercentageMultiplier = 100
)
