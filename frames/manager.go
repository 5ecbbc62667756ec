// Package frames owns the canonical record for every frame the engine
// processes. The manager is the arena: every other component references
// frames by id only, and record versions are copy-on-write so a reader
// holding any published version never observes a mutation.
package frames

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/guardvision/gv-go/model"
)

var (
	ErrInvalidCamera  = errors.New("invalid camera id")
	ErrFrameNotFound  = errors.New("frame not found")
	ErrFrameFinalized = errors.New("frame already finalized")
	ErrStageRegress   = errors.New("frame stage cannot regress")
)

// DetectionUpdate names the result slots one update replaces. A nil slice
// leaves its slot untouched; callers recording zero detections pass a non-nil
// empty slice.
type DetectionUpdate struct {
	Subjects   []model.SubjectDetection
	Attributes []model.AttributeDetection
	Poses      []model.PoseDetection
	Behaviors  []model.BehaviorDetection
	Status     map[model.StageKind]model.StageStatus
	Detail     map[model.StageKind]string
}

type indexEntry struct {
	frameID   string
	timestamp time.Time
}

type Manager struct {
	mu       sync.Mutex
	clock    clock.Clock
	records  *lru.Cache[string, *model.FrameRecord]
	counters map[string]uint64
	index    map[string][]indexEntry // camera id -> entries in timestamp order
	evicted  int64
}

// NewManager builds a manager with a bounded history of maxHistory records,
// evicted oldest-first.
func NewManager(maxHistory int, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}

	m := &Manager{
		clock:    clk,
		counters: map[string]uint64{},
		index:    map[string][]indexEntry{},
	}

	// The eviction callback fires inside cache mutations, which only happen
	// under m.mu, so it must not lock.
	cache, err := lru.NewWithEvict(maxHistory, m.onEvict)
	if err != nil {
		panic(fmt.Sprintf("invalid frame history size %d: %v", maxHistory, err))
	}
	m.records = cache

	return m
}

func (m *Manager) onEvict(frameID string, rec *model.FrameRecord) {
	m.evicted++
	entries := m.index[rec.CameraID]
	for i, e := range entries {
		if e.frameID == frameID {
			m.index[rec.CameraID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
}

// Create registers a new frame and returns its initial record. The frame id
// is {cameraId}_{counter}_{timestampMicros}: unique per camera lifetime and
// sortable by time.
func (m *Manager) Create(ref model.FrameRef, cameraID string, source model.FrameSource, timestamp time.Time) (*model.FrameRecord, error) {
	if cameraID == "" || strings.ContainsAny(cameraID, " \t\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCamera, cameraID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if timestamp.IsZero() {
		timestamp = m.clock.Now()
	}

	m.counters[cameraID]++
	seq := m.counters[cameraID]

	rec := &model.FrameRecord{
		FrameID:     fmt.Sprintf("%s_%d_%d", cameraID, seq, timestamp.UnixMicro()),
		CameraID:    cameraID,
		Seq:         seq,
		Timestamp:   timestamp,
		Source:      source,
		Ref:         ref,
		Version:     1,
		Stage:       model.FrameStagePending,
		StageStatus: map[model.StageKind]model.StageStatus{},
	}

	m.records.Add(rec.FrameID, rec)
	m.index[cameraID] = append(m.index[cameraID], indexEntry{frameID: rec.FrameID, timestamp: timestamp})

	return rec, nil
}

// Get returns the latest version of a frame record. The returned record must
// be treated as read-only.
func (m *Manager) Get(frameID string) (*model.FrameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records.Peek(frameID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, frameID)
	}
	return rec, nil
}

// GetRange returns the retained records for a camera whose timestamps fall in
// [start, end], ordered by timestamp.
func (m *Manager) GetRange(cameraID string, start, end time.Time) []*model.FrameRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.FrameRecord
	for _, e := range m.index[cameraID] {
		if e.timestamp.Before(start) || e.timestamp.After(end) {
			continue
		}
		if rec, ok := m.records.Peek(e.frameID); ok {
			out = append(out, rec)
		}
	}
	return out
}

// UpdateDetections replaces the named result slots and returns the new
// version. Concurrent callers updating disjoint slots both succeed: each call
// clones the latest version under the manager lock.
func (m *Manager) UpdateDetections(frameID string, update DetectionUpdate) (*model.FrameRecord, error) {
	return m.apply(frameID, func(rec *model.FrameRecord) error {
		if rec.Stage.Finalized() {
			return fmt.Errorf("%w: %s is %s", ErrFrameFinalized, frameID, rec.Stage)
		}

		if update.Subjects != nil {
			rec.Subjects = update.Subjects
		}
		if update.Attributes != nil {
			rec.Attributes = update.Attributes
		}
		if update.Poses != nil {
			rec.Poses = update.Poses
		}
		if update.Behaviors != nil {
			rec.Behaviors = update.Behaviors
		}
		applyStatus(rec, update.Status, update.Detail)
		return nil
	})
}

// UpdateState records the stable compliance state derived for this frame.
// Unlike detection results, derived state may still be written after the
// frame completes.
func (m *Manager) UpdateState(frameID string, stable model.ComplianceState, confidence float64) (*model.FrameRecord, error) {
	return m.apply(frameID, func(rec *model.FrameRecord) error {
		rec.StableState = stable
		rec.StableConfidence = confidence
		return nil
	})
}

// SetStage advances the processing stage. Transitions are strictly monotonic
// and a finalized frame cannot move again.
func (m *Manager) SetStage(frameID string, stage model.FrameStage, update DetectionUpdate, degraded bool) (*model.FrameRecord, error) {
	return m.apply(frameID, func(rec *model.FrameRecord) error {
		if rec.Stage.Finalized() {
			return fmt.Errorf("%w: %s is %s", ErrFrameFinalized, frameID, rec.Stage)
		}
		if stage <= rec.Stage {
			return fmt.Errorf("%w: %s -> %s", ErrStageRegress, rec.Stage, stage)
		}

		rec.Stage = stage
		if degraded {
			rec.Degraded = true
		}
		applyStatus(rec, update.Status, update.Detail)
		return nil
	})
}

// Count reports how many records are currently retained.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.Len()
}

// Evicted reports how many records the bounded history has dropped.
func (m *Manager) Evicted() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted
}

func (m *Manager) apply(frameID string, fn func(*model.FrameRecord) error) (*model.FrameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records.Peek(frameID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, frameID)
	}

	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++

	m.records.Add(frameID, next)
	return next, nil
}

func applyStatus(rec *model.FrameRecord, status map[model.StageKind]model.StageStatus, detail map[model.StageKind]string) {
	for k, v := range status {
		if rec.StageStatus == nil {
			rec.StageStatus = map[model.StageKind]model.StageStatus{}
		}
		rec.StageStatus[k] = v
	}
	for k, v := range detail {
		if rec.StageDetail == nil {
			rec.StageDetail = map[model.StageKind]string{}
		}
		rec.StageDetail[k] = v
	}
}
