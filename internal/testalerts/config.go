package testalerts

import "time"

// Config holds configuration for the alert feed test.
type Config struct {
	BaseURL       string        // Base URL of the service
	NumEvents     int           // Number of synthetic events to announce
	PerEvent      int           // Detections generated per event
	InRegionShare float64       // Fraction of detections placed inside the credible region
	Workers       int           // Number of concurrent submitters
	Timeout       time.Duration // HTTP request timeout
	OutputFile    string        // Output file for generated detections
	LogFile       string        // Log file for test output
	Verbose       bool          // Enable verbose logging
}

// Notice mirrors the POST /notices request shape.
type Notice struct {
	EventID  string        `json:"event_id"`
	Revision int           `json:"revision"`
	Subtype  string        `json:"subtype"`
	Details  NoticeDetails `json:"details"`
	Skymap   []byte        `json:"skymap,omitempty"`
}

// NoticeDetails carries the notice metadata block.
type NoticeDetails struct {
	Time string  `json:"time"`
	FAR  float64 `json:"far"`
}

// Detection mirrors the POST /detections request shape.
type Detection struct {
	CandidateID string  `json:"candidate_id"`
	TargetID    string  `json:"target_id"`
	RA          float64 `json:"ra"`
	Dec         float64 `json:"dec"`
	DetectedAt  string  `json:"detected_at"`
	Mag         float64 `json:"mag"`
	SNR         float64 `json:"snr"`
	ScoreReal   float64 `json:"mlscore_real"`

	// EventID and InRegion are bookkeeping for verification, never sent.
	EventID  string `json:"-"`
	InRegion bool   `json:"-"`
}

// AckResponse represents the response from notice and detection submission.
type AckResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// AssociationRow is the subset of a ranked candidate row the verifier reads.
type AssociationRow struct {
	CandidateID string  `json:"candidate_id"`
	Probability float64 `json:"probability"`
	Viable      bool    `json:"viable"`
}

// Stats holds test statistics.
type Stats struct {
	EventsGenerated     int
	NoticesAccepted     int
	NoticesFailed       int
	DetectionsGenerated int
	DetectionsAccepted  int
	DetectionsDuplicate int
	DetectionsFailed    int
	ExpectedMatches     int
	ObservedMatches     int
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}
