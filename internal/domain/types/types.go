// Package types contains the read shapes returned by API queries.
package types

import "time"

// SequenceView is one accepted revision in an event's history.
type SequenceView struct {
	Revision   int       `json:"revision"`
	Subtype    string    `json:"subtype"`
	HasSkymap  bool      `json:"has_skymap"`
	ReceivedAt time.Time `json:"received_at"`
}

// EventView is the current snapshot of a tracked event.
type EventView struct {
	EventID       string             `json:"event_id"`
	State         string             `json:"state"`
	FirstNoticeAt time.Time          `json:"first_notice_at"`
	EventTime     time.Time          `json:"event_time"`
	FAR           float64            `json:"far"`
	ClassProbs    map[string]float64 `json:"class_probs,omitempty"`
	Properties    map[string]float64 `json:"properties,omitempty"`
	Sequences     []SequenceView     `json:"sequences"`
}

// LocalizationView summarizes an event's authoritative localization.
type LocalizationView struct {
	EventID      string             `json:"event_id"`
	Revision     int                `json:"revision"`
	Tiles        int                `json:"tiles"`
	AreasDeg2    map[string]float64 `json:"areas_deg2"`
	DistanceMean *float64           `json:"distance_mean_mpc,omitempty"`
	DistanceStd  *float64           `json:"distance_std_mpc,omitempty"`
	Combined     bool               `json:"combined"`
}

// AssociationView is one ranked candidate row for an event.
type AssociationView struct {
	CandidateID string    `json:"candidate_id"`
	TargetID    string    `json:"target_id"`
	EventID     string    `json:"event_id"`
	RA          float64   `json:"ra"`
	Dec         float64   `json:"dec"`
	DetectedAt  time.Time `json:"detected_at"`
	Mag         float64   `json:"mag"`
	FWHM        float64   `json:"fwhm"`
	SNR         float64   `json:"snr"`
	ScoreOld    float64   `json:"mlscore"`
	ScoreReal   float64   `json:"mlscore_real"`
	ScoreBogus  float64   `json:"mlscore_bogus"`
	Probability float64   `json:"probability"`
	DtDays      float64   `json:"dt_days"`
	Viable      bool      `json:"viable"`
}
