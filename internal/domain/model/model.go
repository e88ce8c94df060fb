// Package model contains domain records passed between layers.
package model

import "time"

// SequenceKind identifies the subtype of a gravitational-wave alert notice.
type SequenceKind string

// Notice subtypes as published on the alert stream.
const (
	KindPreliminary SequenceKind = "PRELIMINARY"
	KindInitial     SequenceKind = "INITIAL"
	KindUpdate      SequenceKind = "UPDATE"
	KindRetraction  SequenceKind = "RETRACTION"
)

// Valid reports whether k is a known notice subtype.
func (k SequenceKind) Valid() bool {
	switch k {
	case KindPreliminary, KindInitial, KindUpdate, KindRetraction:
		return true
	}
	return false
}

// Details carries the classification snapshot attached to a notice:
// the event time, false-alarm rate, per-class probabilities (BNS, NSBH,
// BBH, Terrestrial) and source-property probabilities (HasNS, HasRemnant).
type Details struct {
	Time       time.Time
	FAR        float64
	ClassProbs map[string]float64
	Properties map[string]float64
}

// Notice is the raw event notice shape received from the alert broker.
// SkymapBlob holds the serialized (optionally gzip-compressed) skymap;
// SkymapURL points at a remote skymap when the notice carries none inline.
type Notice struct {
	EventID    string
	Revision   int
	Kind       SequenceKind
	Details    Details
	SkymapBlob []byte
	SkymapURL  string
}

// Candidate is a transient detection from a survey. Detection attributes
// are immutable; only the candidate's event associations ever change.
type Candidate struct {
	ID         string
	TargetID   string
	RA         float64 // degrees, [0, 360]
	Dec        float64 // degrees, [-90, 90]
	DetectedAt time.Time
	Mag        float64
	FWHM       float64
	SNR        float64
	ScoreOld   float64 // historical classifier, [0,1]
	ScoreReal  float64 // "real" classifier, [0,1]
	ScoreBogus float64 // "bogus" classifier, [0,1]
}

// Association relates one candidate to one event. At most one association
// exists per (candidate, event) pair; re-matching updates it in place.
// Non-viable associations are retained for the lifetime of the event.
type Association struct {
	ID          string // uuid assigned on creation
	CandidateID string
	EventID     string
	// Probability is the enclosed probability at the candidate's position
	// under the event's current (or combined) localization.
	Probability float64
	// DtDays is the time from the event to the detection, in days.
	DtDays float64
	// Threshold is the credible-level the candidate was matched at.
	// Re-evaluation judges viability against this original threshold.
	Threshold float64
	Viable    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cutout kinds served by the external thumbnail store.
const (
	CutoutImg   = "img"
	CutoutRef   = "ref"
	CutoutDiff  = "diff"
	CutoutScorr = "scorr"
)

// CutoutKinds lists the thumbnail kinds in display order.
func CutoutKinds() []string {
	return []string{CutoutImg, CutoutRef, CutoutDiff, CutoutScorr}
}
