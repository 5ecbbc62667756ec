// Package state turns noisy per-frame classification signals into a
// temporally stable compliance state, one debounce record per
// (track, signal) pair.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/natefinch/lumberjack"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
	"github.com/guardvision/gv-go/service/lgr"
)

var ErrInvalidStateTransition = errors.New("invalid state transition")

type recordKey struct {
	trackID string
	signal  model.SignalKind
}

// Manager owns the state records for one camera's tracks.
type Manager struct {
	mu       sync.Mutex
	cameraID string
	cfgSvc   config.IService
	clock    clock.Clock
	records  map[recordKey]*model.StateRecord
	removed  map[string]bool

	transitions chan model.StateTransition
	translog    *lumberjack.Logger

	updates  int64
	promoted int64
}

// NewManager builds a state manager. A nil clock means wall time; translog
// may be nil to skip the rolling transition log.
func NewManager(cameraID string, cfgSvc config.IService, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}

	return &Manager{
		cameraID:    cameraID,
		cfgSvc:      cfgSvc,
		clock:       clk,
		records:     map[recordKey]*model.StateRecord{},
		removed:     map[string]bool{},
		transitions: make(chan model.StateTransition, 100),
	}
}

// WithTransitionLog attaches a rolling JSON log of stable-state transitions.
func (m *Manager) WithTransitionLog() *Manager {
	m.translog = &lumberjack.Logger{
		Filename:   fmt.Sprintf("%s/%s", m.cfgSvc.GetOutputFolder(), m.cfgSvc.GetTransitionsLogFile()),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7,    // days
		Compress:   true, // compress old logs
	}
	return m
}

// Transitions delivers each stable-state transition exactly once.
func (m *Manager) Transitions() <-chan model.StateTransition {
	return m.transitions
}

// MarkTrackRemoved drops the track's records and rejects any later update on
// it. Wired to the tracker's removal hook.
func (m *Manager) MarkTrackRemoved(trackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removed[trackID] = true
	for key := range m.records {
		if key.trackID == trackID {
			delete(m.records, key)
		}
	}
}

// Update folds one frame's signal into the debounce record and returns the
// (possibly unchanged) stable state. Agreement with the candidate increments
// the evidence counter; disagreement decrements it by one (floor zero) so a
// single noisy frame never discards accumulated evidence. When the counter
// drains to zero the disagreeing value becomes the new candidate.
func (m *Manager) Update(frameID, trackID string, signal model.SignalKind, value model.ComplianceState, confidence float64) (model.ComplianceState, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removed[trackID] {
		return "", 0, fmt.Errorf("%w: track %s was removed", ErrInvalidStateTransition, trackID)
	}

	m.updates++

	key := recordKey{trackID: trackID, signal: signal}
	rec, ok := m.records[key]
	if !ok {
		rec = &model.StateRecord{
			TrackID:        trackID,
			Signal:         signal,
			CandidateState: value,
			StableState:    model.StateUncertain,
		}
		m.records[key] = rec
	}

	if value == rec.CandidateState {
		rec.ConsecutiveAgree++
	} else {
		rec.ConsecutiveAgree--
		if rec.ConsecutiveAgree <= 0 {
			rec.ConsecutiveAgree = 1
			rec.CandidateState = value
		}
	}

	if rec.ConsecutiveAgree >= m.cfgSvc.GetStabilityWindow() && rec.StableState != rec.CandidateState {
		transition := model.StateTransition{
			CameraID:   m.cameraID,
			TrackID:    trackID,
			Signal:     signal,
			From:       rec.StableState,
			To:         rec.CandidateState,
			Confidence: confidence,
			FrameID:    frameID,
			Timestamp:  m.clock.Now(),
		}

		rec.StableState = rec.CandidateState
		rec.StableConfidence = confidence
		rec.LastTransition = transition.Timestamp
		m.promoted++

		m.emit(transition)
	}

	return rec.StableState, rec.StableConfidence, nil
}

// Snapshot returns a copy of one debounce record.
func (m *Manager) Snapshot(trackID string, signal model.SignalKind) (model.StateRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey{trackID: trackID, signal: signal}]
	if !ok {
		return model.StateRecord{}, false
	}
	return *rec, true
}

func (m *Manager) Stats() model.StateStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return model.StateStats{
		Camera:      m.cameraID,
		Updates:     m.updates,
		Transitions: m.promoted,
		Records:     len(m.records),
	}
}

func (m *Manager) emit(transition model.StateTransition) {
	select {
	case m.transitions <- transition:
	default:
		lgr.Logger.Warn("transitions channel full, dropping transition",
			slog.String("camera", m.cameraID),
			slog.String("track", transition.TrackID),
		)
	}

	if m.translog == nil {
		return
	}

	data, err := json.Marshal(transition)
	if err != nil {
		lgr.Logger.Error("error marshaling transition", slog.Any("error", err))
		return
	}
	if _, err := m.translog.Write(append(data, '\n')); err != nil {
		lgr.Logger.Error("error writing transition log", slog.Any("error", err))
	}
}
