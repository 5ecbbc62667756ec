package frames

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardvision/gv-go/model"
)

func TestCreateAssignsUniqueSortableIDs(t *testing.T) {
	mock := clock.NewMock()
	m := NewManager(64, mock)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		mock.Add(33 * time.Millisecond)
		for _, cam := range []string{"cam-a", "cam-b"} {
			rec, err := m.Create(model.FrameRef{Hash: fmt.Sprintf("%s-%d", cam, i)}, cam, model.FrameSourceLive, time.Time{})
			require.NoError(t, err)
			require.False(t, seen[rec.FrameID], "duplicate frame id %s", rec.FrameID)
			seen[rec.FrameID] = true

			assert.Equal(t, uint64(i+1), rec.Seq)
			assert.Equal(t, fmt.Sprintf("%s_%d_%d", cam, rec.Seq, rec.Timestamp.UnixMicro()), rec.FrameID)
			assert.Equal(t, model.FrameStagePending, rec.Stage)
			assert.Equal(t, 1, rec.Version)
		}
	}
}

func TestCreateRejectsInvalidCameraID(t *testing.T) {
	m := NewManager(8, nil)

	for _, cam := range []string{"", "cam 1", "cam\t2"} {
		_, err := m.Create(model.FrameRef{}, cam, model.FrameSourceLive, time.Now())
		assert.ErrorIs(t, err, ErrInvalidCamera, "camera %q", cam)
	}
}

func TestStageTransitionsAreMonotonic(t *testing.T) {
	m := NewManager(8, nil)
	rec, err := m.Create(model.FrameRef{Hash: "f1"}, "cam-a", model.FrameSourceLive, time.Now())
	require.NoError(t, err)

	_, err = m.SetStage(rec.FrameID, model.FrameStageProcessing, DetectionUpdate{}, false)
	require.NoError(t, err)

	// Regressing to pending is rejected, as is re-setting the current stage.
	_, err = m.SetStage(rec.FrameID, model.FrameStagePending, DetectionUpdate{}, false)
	assert.ErrorIs(t, err, ErrStageRegress)
	_, err = m.SetStage(rec.FrameID, model.FrameStageProcessing, DetectionUpdate{}, false)
	assert.ErrorIs(t, err, ErrStageRegress)

	_, err = m.SetStage(rec.FrameID, model.FrameStageCompleted, DetectionUpdate{}, false)
	require.NoError(t, err)

	_, err = m.SetStage(rec.FrameID, model.FrameStageFailed, DetectionUpdate{}, false)
	assert.ErrorIs(t, err, ErrFrameFinalized)
}

func TestFinalizedFrameRejectsDetectionsButAcceptsState(t *testing.T) {
	m := NewManager(8, nil)
	rec, err := m.Create(model.FrameRef{Hash: "f1"}, "cam-a", model.FrameSourceLive, time.Now())
	require.NoError(t, err)

	_, err = m.SetStage(rec.FrameID, model.FrameStageProcessing, DetectionUpdate{}, false)
	require.NoError(t, err)
	_, err = m.SetStage(rec.FrameID, model.FrameStageCompleted, DetectionUpdate{}, false)
	require.NoError(t, err)

	_, err = m.UpdateDetections(rec.FrameID, DetectionUpdate{Subjects: []model.SubjectDetection{}})
	assert.ErrorIs(t, err, ErrFrameFinalized)

	// Derived stable state is still writable after completion.
	updated, err := m.UpdateState(rec.FrameID, model.StateViolation, 0.91)
	require.NoError(t, err)
	assert.Equal(t, model.StateViolation, updated.StableState)
	assert.Equal(t, 0.91, updated.StableConfidence)
}

func TestUpdatesAreCopyOnWrite(t *testing.T) {
	m := NewManager(8, nil)
	rec, err := m.Create(model.FrameRef{Hash: "f1"}, "cam-a", model.FrameSourceLive, time.Now())
	require.NoError(t, err)

	held, err := m.Get(rec.FrameID)
	require.NoError(t, err)

	next, err := m.UpdateDetections(rec.FrameID, DetectionUpdate{
		Subjects: []model.SubjectDetection{{Detection: model.Detection{Class: "person", Confidence: 0.9}}},
	})
	require.NoError(t, err)

	// The version held before the update never observes the mutation.
	assert.Nil(t, held.Subjects)
	assert.Equal(t, held.Version+1, next.Version)
	require.Len(t, next.Subjects, 1)
	assert.Equal(t, "person", next.Subjects[0].Class)
}

func TestStateUpdateLeavesDetectionResultsIntact(t *testing.T) {
	m := NewManager(8, nil)
	rec, err := m.Create(model.FrameRef{Hash: "f1"}, "cam-a", model.FrameSourceLive, time.Now())
	require.NoError(t, err)

	first, err := m.UpdateDetections(rec.FrameID, DetectionUpdate{
		Subjects: []model.SubjectDetection{{Detection: model.Detection{Class: "person", Confidence: 0.9}}},
		Status:   map[model.StageKind]model.StageStatus{model.StageSubjects: model.StageStatusOK},
	})
	require.NoError(t, err)

	second, err := m.UpdateState(rec.FrameID, model.StateViolation, 0.9)
	require.NoError(t, err)

	// Only the derived state and version may differ between the two versions.
	if diff := cmp.Diff(first.Subjects, second.Subjects); diff != "" {
		t.Errorf("subjects changed across a state update (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(first.StageStatus, second.StageStatus); diff != "" {
		t.Errorf("stage statuses changed across a state update (-before +after):\n%s", diff)
	}
	assert.Equal(t, first.Version+1, second.Version)
	assert.Equal(t, model.StateViolation, second.StableState)
}

func TestNilSliceLeavesSlotUntouched(t *testing.T) {
	m := NewManager(8, nil)
	rec, err := m.Create(model.FrameRef{Hash: "f1"}, "cam-a", model.FrameSourceLive, time.Now())
	require.NoError(t, err)

	_, err = m.UpdateDetections(rec.FrameID, DetectionUpdate{
		Subjects: []model.SubjectDetection{{Detection: model.Detection{Class: "person"}}},
	})
	require.NoError(t, err)

	// Updating poses only must not clear the subjects slot; an explicit empty
	// slice does.
	next, err := m.UpdateDetections(rec.FrameID, DetectionUpdate{Poses: []model.PoseDetection{}})
	require.NoError(t, err)
	assert.Len(t, next.Subjects, 1)
	assert.NotNil(t, next.Poses)

	next, err = m.UpdateDetections(rec.FrameID, DetectionUpdate{Subjects: []model.SubjectDetection{}})
	require.NoError(t, err)
	assert.Empty(t, next.Subjects)
}

func TestBoundedHistoryEvictsOldestFirst(t *testing.T) {
	mock := clock.NewMock()
	m := NewManager(3, mock)

	var ids []string
	start := mock.Now()
	for i := 0; i < 5; i++ {
		mock.Add(10 * time.Millisecond)
		rec, err := m.Create(model.FrameRef{Hash: fmt.Sprintf("f%d", i)}, "cam-a", model.FrameSourceLive, time.Time{})
		require.NoError(t, err)
		ids = append(ids, rec.FrameID)
	}

	assert.Equal(t, 3, m.Count())
	assert.Equal(t, int64(2), m.Evicted())

	_, err := m.Get(ids[0])
	assert.ErrorIs(t, err, ErrFrameNotFound)
	_, err = m.Get(ids[1])
	assert.ErrorIs(t, err, ErrFrameNotFound)

	// The range query only sees retained records, still in timestamp order.
	got := m.GetRange("cam-a", start, mock.Now())
	require.Len(t, got, 3)
	for i, rec := range got {
		assert.Equal(t, ids[i+2], rec.FrameID)
	}
}

func TestGetRangeFiltersByWindow(t *testing.T) {
	mock := clock.NewMock()
	m := NewManager(16, mock)

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		mock.Add(time.Second)
		stamps = append(stamps, mock.Now())
		_, err := m.Create(model.FrameRef{Hash: fmt.Sprintf("f%d", i)}, "cam-a", model.FrameSourceLive, time.Time{})
		require.NoError(t, err)
	}

	got := m.GetRange("cam-a", stamps[1], stamps[2])
	require.Len(t, got, 2)
	assert.Equal(t, stamps[1], got[0].Timestamp)
	assert.Equal(t, stamps[2], got[1].Timestamp)

	assert.Empty(t, m.GetRange("cam-b", stamps[0], stamps[3]))
}

func TestConcurrentDisjointSlotUpdates(t *testing.T) {
	m := NewManager(8, nil)
	rec, err := m.Create(model.FrameRef{Hash: "f1"}, "cam-a", model.FrameSourceLive, time.Now())
	require.NoError(t, err)

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := m.UpdateDetections(rec.FrameID, DetectionUpdate{
				Attributes: []model.AttributeDetection{{Detection: model.Detection{Class: "hard-hat"}}},
			})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := m.UpdateDetections(rec.FrameID, DetectionUpdate{
				Poses: []model.PoseDetection{{Detection: model.Detection{Class: "walking"}}},
			})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	// Neither writer can clobber the other's slot: every update clones the
	// latest version under the manager lock.
	final, err := m.Get(rec.FrameID)
	require.NoError(t, err)
	assert.Len(t, final.Attributes, 1)
	assert.Len(t, final.Poses, 1)
	assert.Equal(t, 1+2*rounds, final.Version)
}
