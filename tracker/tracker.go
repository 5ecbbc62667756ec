// Package tracker assigns persistent identities to the subjects a camera
// sees, matching per-frame detections to known tracks by spatial overlap.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
)

var ErrTrackNotFound = errors.New("track not found")

// Assignment pairs one frame detection with the track it resolved to.
type Assignment struct {
	TrackID        string
	Track          model.Track // snapshot after the update
	Detection      model.SubjectDetection
	DetectionIndex int
	Fresh          bool // true when the detection spawned a new tentative track
}

// Tracker owns the track table for exactly one camera. No cross-camera
// sharing, so its single mutex never sees contention between cameras.
type Tracker struct {
	mu          sync.Mutex
	cameraID    string
	cfgSvc      config.IService
	tracks      map[string]*model.Track
	createSeq   uint64
	removeHooks []func(trackID string)

	spawned   int64
	matched   int64
	confirmed int64
	lost      int64
	removed   int64
}

func New(cameraID string, cfgSvc config.IService) *Tracker {
	return &Tracker{
		cameraID: cameraID,
		cfgSvc:   cfgSvc,
		tracks:   map[string]*model.Track{},
	}
}

// OnRemove registers a hook fired (under the tracker lock) whenever a track
// is removed. The state manager uses it to reject updates on stale tracks.
func (t *Tracker) OnRemove(fn func(trackID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeHooks = append(t.removeHooks, fn)
}

// IOU is the intersection-over-union of two boxes.
func IOU(a, b model.BBox) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

type candidate struct {
	trackID  string
	detIndex int
	iou      float64
}

// Update matches the frame's subject detections against the active tracks.
// Matching is greedy: the highest-overlap pair wins first; ties go to the
// earliest-created track, then the lowest detection index. Unmatched
// detections spawn tentative tracks; unmatched tracks age toward lost and
// eventually removal.
func (t *Tracker) Update(frameID string, detections []model.SubjectDetection) []Assignment {
	t.mu.Lock()
	defer t.mu.Unlock()

	iouThreshold := t.cfgSvc.GetIOUThreshold()
	alpha := t.cfgSvc.GetConfidenceEMAAlpha()

	// Lost tracks are excluded from matching.
	var candidates []candidate
	for id, trk := range t.tracks {
		if trk.Lifecycle == model.TrackLost {
			continue
		}
		for i, det := range detections {
			if overlap := IOU(trk.LastBBox, det.BBox); overlap >= iouThreshold {
				candidates = append(candidates, candidate{trackID: id, detIndex: i, iou: overlap})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.iou != b.iou {
			return a.iou > b.iou
		}
		if t.tracks[a.trackID].CreatedSeq != t.tracks[b.trackID].CreatedSeq {
			return t.tracks[a.trackID].CreatedSeq < t.tracks[b.trackID].CreatedSeq
		}
		return a.detIndex < b.detIndex
	})

	matchedTracks := map[string]bool{}
	matchedDets := map[int]bool{}
	assignmentByDet := map[int]Assignment{}

	for _, c := range candidates {
		if matchedTracks[c.trackID] || matchedDets[c.detIndex] {
			continue
		}
		matchedTracks[c.trackID] = true
		matchedDets[c.detIndex] = true

		trk := t.tracks[c.trackID]
		det := detections[c.detIndex]

		trk.LastBBox = det.BBox
		trk.LastSeenFrameID = frameID
		trk.DisappearedCount = 0
		trk.ConsecutiveHits++
		trk.ConfidenceEMA = alpha*det.Confidence + (1-alpha)*trk.ConfidenceEMA
		if trk.Lifecycle == model.TrackTentative && trk.ConsecutiveHits >= t.cfgSvc.GetConfirmHits() {
			trk.Lifecycle = model.TrackConfirmed
			t.confirmed++
		}
		t.matched++

		assignmentByDet[c.detIndex] = Assignment{
			TrackID:        trk.ID,
			Track:          *trk,
			Detection:      det,
			DetectionIndex: c.detIndex,
		}
	}

	// Unmatched detections spawn new tentative tracks.
	for i, det := range detections {
		if matchedDets[i] {
			continue
		}

		t.createSeq++
		trk := &model.Track{
			ID:              uuid.NewString(),
			CameraID:        t.cameraID,
			Lifecycle:       model.TrackTentative,
			LastBBox:        det.BBox,
			LastSeenFrameID: frameID,
			ConsecutiveHits: 1,
			ConfidenceEMA:   det.Confidence,
			CreatedSeq:      t.createSeq,
		}
		if trk.ConsecutiveHits >= t.cfgSvc.GetConfirmHits() {
			trk.Lifecycle = model.TrackConfirmed
			t.confirmed++
		}
		t.tracks[trk.ID] = trk
		t.spawned++

		assignmentByDet[i] = Assignment{
			TrackID:        trk.ID,
			Track:          *trk,
			Detection:      det,
			DetectionIndex: i,
			Fresh:          true,
		}
	}

	// Unmatched tracks age.
	maxDisappeared := t.cfgSvc.GetMaxDisappeared()
	grace := t.cfgSvc.GetLostGracePeriod()
	for id, trk := range t.tracks {
		if matchedTracks[id] || trk.LastSeenFrameID == frameID {
			continue
		}

		trk.DisappearedCount++
		trk.ConsecutiveHits = 0

		switch {
		case trk.Lifecycle != model.TrackLost && trk.DisappearedCount > maxDisappeared:
			trk.Lifecycle = model.TrackLost
			t.lost++
		case trk.Lifecycle == model.TrackLost && trk.DisappearedCount > maxDisappeared+grace:
			trk.Lifecycle = model.TrackRemoved
			delete(t.tracks, id)
			t.removed++
			for _, fn := range t.removeHooks {
				fn(id)
			}
		}
	}

	out := make([]Assignment, 0, len(assignmentByDet))
	for i := range detections {
		if a, ok := assignmentByDet[i]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Get returns a snapshot of one track, or ErrTrackNotFound for a stale id.
// Never retried: a stale id indicates a caller bug.
func (t *Tracker) Get(trackID string) (model.Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trk, ok := t.tracks[trackID]
	if !ok {
		return model.Track{}, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	return *trk, nil
}

// Active returns snapshots of the tracks eligible for matching (tentative and
// confirmed).
func (t *Tracker) Active() []model.Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []model.Track
	for _, trk := range t.tracks {
		if trk.Lifecycle == model.TrackTentative || trk.Lifecycle == model.TrackConfirmed {
			out = append(out, *trk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedSeq < out[j].CreatedSeq })
	return out
}

func (t *Tracker) Stats() model.TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := 0
	for _, trk := range t.tracks {
		if trk.Lifecycle == model.TrackTentative || trk.Lifecycle == model.TrackConfirmed {
			active++
		}
	}

	return model.TrackerStats{
		Camera:    t.cameraID,
		Spawned:   t.spawned,
		Matched:   t.matched,
		Confirmed: t.confirmed,
		Lost:      t.lost,
		Removed:   t.removed,
		Active:    active,
	}
}
