package model

import "time"

// TrackLifecycle is the lifecycle of a tracked subject.
type TrackLifecycle string

const (
	TrackTentative TrackLifecycle = "tentative"
	TrackConfirmed TrackLifecycle = "confirmed"
	TrackLost      TrackLifecycle = "lost"
	TrackRemoved   TrackLifecycle = "removed"
)

// Track is one physical subject persisted across frames. Owned exclusively by
// the tracker; everything else holds tracks by id only.
type Track struct {
	ID               string         `json:"id"`
	CameraID         string         `json:"cameraId"`
	Lifecycle        TrackLifecycle `json:"lifecycle"`
	LastBBox         BBox           `json:"lastBbox"`
	LastSeenFrameID  string         `json:"lastSeenFrameId"`
	DisappearedCount int            `json:"disappearedCount"`
	ConsecutiveHits  int            `json:"consecutiveHits"`
	ConfidenceEMA    float64        `json:"confidenceEma"`
	CreatedSeq       uint64         `json:"createdSeq"` // creation order, tie-break key
}

// ComplianceState is the tri-state compliance signal value. Uncertain is used
// before any stable value has ever been established for a track.
type ComplianceState string

const (
	StateUncertain ComplianceState = "uncertain"
	StateNormal    ComplianceState = "normal"
	StateViolation ComplianceState = "violation"
)

// SignalKind names one compliance signal (e.g. protective gear, hand hygiene).
type SignalKind string

const (
	SignalGear    SignalKind = "protective-gear"
	SignalHygiene SignalKind = "hand-hygiene"
)

// StateRecord is the debounce state for one (track, signal) pair. Owned
// exclusively by the state manager.
type StateRecord struct {
	TrackID          string          `json:"trackId"`
	Signal           SignalKind      `json:"signal"`
	CandidateState   ComplianceState `json:"candidateState"`
	ConsecutiveAgree int             `json:"consecutiveAgree"`
	StableState      ComplianceState `json:"stableState"`
	StableConfidence float64         `json:"stableConfidence"`
	LastTransition   time.Time       `json:"lastTransition"`
}

// StateTransition is emitted exactly once when a (track, signal) pair's
// stable state changes.
type StateTransition struct {
	CameraID   string          `json:"cameraId"`
	TrackID    string          `json:"trackId"`
	Signal     SignalKind      `json:"signal"`
	From       ComplianceState `json:"from"`
	To         ComplianceState `json:"to"`
	Confidence float64         `json:"confidence"`
	FrameID    string          `json:"frameId"`
	Timestamp  time.Time       `json:"timestamp"`
}
