package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardvision/gv-go/frames"
	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
	"github.com/guardvision/gv-go/service/detector"
	"github.com/guardvision/gv-go/state"
	"github.com/guardvision/gv-go/tracker"
)

type harness struct {
	frames  *frames.Manager
	tracker *tracker.Tracker
	state   *state.Manager
	orch    *Orchestrator
}

func newHarness(adapters detector.Adapters, fn func(*config.Settings)) *harness {
	settings := config.DefaultSettings()
	settings.StageRetryBackoff = time.Millisecond
	if fn != nil {
		fn(&settings)
	}
	cfgSvc := config.NewStatic(settings)

	framesMgr := frames.NewManager(64, nil)
	trk := tracker.New("cam-a", cfgSvc)
	stateMgr := state.NewManager("cam-a", cfgSvc, clock.NewMock())
	trk.OnRemove(stateMgr.MarkTrackRemoved)

	return &harness{
		frames:  framesMgr,
		tracker: trk,
		state:   stateMgr,
		orch:    NewOrchestrator("cam-a", cfgSvc, adapters, framesMgr, trk, stateMgr),
	}
}

func (h *harness) newFrame(t *testing.T, hash string) *model.FrameRecord {
	t.Helper()
	rec, err := h.frames.Create(model.FrameRef{Hash: hash}, "cam-a", model.FrameSourceLive, time.Now())
	require.NoError(t, err)
	return rec
}

func personAt(x float64) model.Detection {
	return model.Detection{
		BBox:       model.BBox{X1: x, Y1: 80, X2: x + 80, Y2: 260},
		Confidence: 0.9,
		Class:      "person",
	}
}

func behaviorOf(value model.ComplianceState, conf float64) model.Detection {
	return model.Detection{
		BBox:       model.BBox{X1: 100, Y1: 80, X2: 180, Y2: 260},
		Confidence: conf,
		Class:      string(value),
		Attrs:      map[string]string{"signal": string(model.SignalGear)},
	}
}

func TestZeroSubjectsShortCircuits(t *testing.T) {
	attrs := detector.NewFake("attrs", detector.KindAttribute, []model.Detection{{Class: "hard-hat"}})
	pose := detector.NewFake("pose", detector.KindPose, []model.Detection{{Class: "walking"}})
	behavior := detector.NewFake("behavior", detector.KindBehavior, []model.Detection{behaviorOf(model.StateNormal, 0.9)})

	h := newHarness(detector.Adapters{
		Subjects:   detector.NewFake("subjects", detector.KindSubjects, []model.Detection{}),
		Attributes: attrs,
		Pose:       pose,
		Behavior:   behavior,
	}, nil)

	rec := h.newFrame(t, "empty")
	done, err := h.orch.Process(context.Background(), rec.FrameID)
	require.NoError(t, err)

	assert.Equal(t, model.FrameStageCompleted, done.Stage)
	assert.Equal(t, model.StageStatusOK, done.StageStatus[model.StageSubjects])
	assert.NotNil(t, done.Subjects)
	assert.Empty(t, done.Subjects)

	// No downstream stage was ever invoked.
	assert.Zero(t, detector.Calls(attrs))
	assert.Zero(t, detector.Calls(pose))
	assert.Zero(t, detector.Calls(behavior))
	assert.Equal(t, int64(0), h.tracker.Stats().Spawned)
}

func TestAttributeAndPoseRunConcurrently(t *testing.T) {
	var entered atomic.Int32
	barrier := make(chan struct{})

	// Each fan-out task parks until both stages are in flight. With retries
	// off and a short stage timeout, sequential execution would time out.
	waitBoth := func(ctx context.Context, _ detector.Request) ([]model.Detection, error) {
		if entered.Add(1) == 2 {
			close(barrier)
		}
		select {
		case <-barrier:
			return []model.Detection{{Class: "ok", Confidence: 1}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h := newHarness(detector.Adapters{
		Subjects:   detector.NewFake("subjects", detector.KindSubjects, []model.Detection{personAt(100)}),
		Attributes: detector.NewFunc("attrs", detector.KindAttribute, waitBoth),
		Pose:       detector.NewFunc("pose", detector.KindPose, waitBoth),
	}, func(s *config.Settings) {
		s.StageMaxRetries = 0
		s.StageTimeout[model.StageAttributes] = 500 * time.Millisecond
		s.StageTimeout[model.StagePose] = 500 * time.Millisecond
	})

	rec := h.newFrame(t, "f1")
	done, err := h.orch.Process(context.Background(), rec.FrameID)
	require.NoError(t, err)

	assert.Equal(t, model.FrameStageCompleted, done.Stage)
	assert.False(t, done.Degraded)
	assert.Equal(t, model.StageStatusOK, done.StageStatus[model.StageAttributes])
	assert.Equal(t, model.StageStatusOK, done.StageStatus[model.StagePose])
	require.Len(t, done.Attributes, 1)
	require.Len(t, done.Poses, 1)
	assert.Equal(t, 0, done.Attributes[0].SubjectIndex)
	assert.Equal(t, 0, done.Poses[0].SubjectIndex)
}

func TestAttributeFailureDegradesFrame(t *testing.T) {
	h := newHarness(detector.Adapters{
		Subjects: detector.NewFake("subjects", detector.KindSubjects, []model.Detection{personAt(100)}),
		Attributes: detector.NewFunc("attrs", detector.KindAttribute,
			func(_ context.Context, _ detector.Request) ([]model.Detection, error) {
				return nil, errors.New("attribute model crashed")
			}),
		Pose: detector.NewFake("pose", detector.KindPose, []model.Detection{{Class: "walking", Confidence: 0.8}}),
	}, func(s *config.Settings) {
		s.StageMaxRetries = 1
	})

	rec := h.newFrame(t, "f1")
	done, err := h.orch.Process(context.Background(), rec.FrameID)
	require.NoError(t, err)

	// The frame completes degraded: pose results survive, attributes carry
	// the failure.
	assert.Equal(t, model.FrameStageCompleted, done.Stage)
	assert.True(t, done.Degraded)
	assert.Equal(t, model.StageStatusFailed, done.StageStatus[model.StageAttributes])
	assert.Contains(t, done.StageDetail[model.StageAttributes], "attribute model crashed")
	assert.Equal(t, model.StageStatusOK, done.StageStatus[model.StagePose])
	assert.Empty(t, done.Attributes)
	assert.Len(t, done.Poses, 1)
}

func TestStageTimeoutMarksTimeout(t *testing.T) {
	h := newHarness(detector.Adapters{
		Subjects: detector.NewFake("subjects", detector.KindSubjects, []model.Detection{personAt(100)}),
		Attributes: detector.NewFunc("attrs", detector.KindAttribute,
			func(ctx context.Context, _ detector.Request) ([]model.Detection, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		Pose: detector.NewFake("pose", detector.KindPose, []model.Detection{{Class: "walking", Confidence: 0.8}}),
	}, func(s *config.Settings) {
		s.StageMaxRetries = 0
		s.StageTimeout[model.StageAttributes] = 10 * time.Millisecond
	})

	rec := h.newFrame(t, "f1")
	done, err := h.orch.Process(context.Background(), rec.FrameID)
	require.NoError(t, err)

	assert.Equal(t, model.FrameStageCompleted, done.Stage)
	assert.True(t, done.Degraded)
	assert.Equal(t, model.StageStatusTimeout, done.StageStatus[model.StageAttributes])
	assert.Equal(t, model.StageStatusOK, done.StageStatus[model.StagePose])
}

func TestPrimarySubjectFailureFailsFrame(t *testing.T) {
	h := newHarness(detector.Adapters{
		Subjects: detector.NewFunc("subjects", detector.KindSubjects,
			func(_ context.Context, _ detector.Request) ([]model.Detection, error) {
				return nil, errors.New("subject model crashed")
			}),
		Attributes: detector.NewFake("attrs", detector.KindAttribute, []model.Detection{{Class: "hard-hat"}}),
	}, func(s *config.Settings) {
		s.StageMaxRetries = 0
	})

	rec := h.newFrame(t, "f1")
	done, err := h.orch.Process(context.Background(), rec.FrameID)
	require.ErrorIs(t, err, ErrStageInference)

	assert.Equal(t, model.FrameStageFailed, done.Stage)
	assert.Equal(t, model.StageStatusFailed, done.StageStatus[model.StageSubjects])
	assert.Contains(t, done.StageDetail[model.StageSubjects], "subject model crashed")
}

func TestTransientSubjectFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	subjects := detector.NewFunc("subjects", detector.KindSubjects,
		func(_ context.Context, _ detector.Request) ([]model.Detection, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient inference error")
			}
			return []model.Detection{personAt(100)}, nil
		})

	h := newHarness(detector.Adapters{Subjects: subjects}, func(s *config.Settings) {
		s.StageMaxRetries = 2
	})

	rec := h.newFrame(t, "f1")
	done, err := h.orch.Process(context.Background(), rec.FrameID)
	require.NoError(t, err)

	assert.Equal(t, model.FrameStageCompleted, done.Stage)
	assert.Equal(t, model.StageStatusOK, done.StageStatus[model.StageSubjects])
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, done.Subjects, 1)
}

func TestDisabledStageIsSkippedNotDegraded(t *testing.T) {
	pose := detector.NewFake("pose", detector.KindPose, []model.Detection{{Class: "walking"}})

	h := newHarness(detector.Adapters{
		Subjects:   detector.NewFake("subjects", detector.KindSubjects, []model.Detection{personAt(100)}),
		Attributes: detector.NewFake("attrs", detector.KindAttribute, []model.Detection{{Class: "hard-hat", Confidence: 0.9}}),
		Pose:       pose,
	}, func(s *config.Settings) {
		s.StageEnabled[model.StagePose] = false
	})

	rec := h.newFrame(t, "f1")
	done, err := h.orch.Process(context.Background(), rec.FrameID)
	require.NoError(t, err)

	assert.Equal(t, model.FrameStageCompleted, done.Stage)
	assert.False(t, done.Degraded)
	assert.Equal(t, model.StageStatusSkipped, done.StageStatus[model.StagePose])
	assert.Equal(t, model.StageStatusOK, done.StageStatus[model.StageAttributes])
	assert.Zero(t, detector.Calls(pose))
}

func drainTransitions(m *state.Manager) []model.StateTransition {
	var out []model.StateTransition
	for {
		select {
		case tr := <-m.Transitions():
			out = append(out, tr)
		default:
			return out
		}
	}
}

// runScenario pushes one behavior value per frame through the full stage
// graph and returns the finalized records in order.
func runScenario(t *testing.T, h *harness, values []model.ComplianceState, confs []float64) []*model.FrameRecord {
	t.Helper()

	var out []*model.FrameRecord
	for i := range values {
		rec := h.newFrame(t, fmt.Sprintf("f%d", i+1))
		done, err := h.orch.Process(context.Background(), rec.FrameID)
		require.NoError(t, err)
		require.Equal(t, model.FrameStageCompleted, done.Stage)
		out = append(out, done)
	}
	return out
}

func scenarioHarness(values []model.ComplianceState, confs []float64) *harness {
	var call atomic.Int32

	behavior := detector.NewFunc("behavior", detector.KindBehavior,
		func(_ context.Context, _ detector.Request) ([]model.Detection, error) {
			i := int(call.Add(1)) - 1
			return []model.Detection{behaviorOf(values[i], confs[i])}, nil
		})

	return newHarness(detector.Adapters{
		Subjects: detector.NewFake("subjects", detector.KindSubjects, []model.Detection{personAt(100)}),
		Behavior: behavior,
	}, func(s *config.Settings) {
		s.ConfirmHits = 1
		s.StabilityWindow = 3
	})
}

func TestSteadyViolationPromotesExactlyOnce(t *testing.T) {
	values := []model.ComplianceState{
		model.StateViolation, model.StateViolation, model.StateViolation,
		model.StateViolation, model.StateViolation,
	}
	confs := []float64{0.95, 0.95, 0.95, 0.95, 0.95}

	h := scenarioHarness(values, confs)
	records := runScenario(t, h, values, confs)

	transitions := drainTransitions(h.state)
	require.Len(t, transitions, 1)
	assert.Equal(t, records[2].FrameID, transitions[0].FrameID)
	assert.Equal(t, model.StateUncertain, transitions[0].From)
	assert.Equal(t, model.StateViolation, transitions[0].To)

	// Frames before the window carry the uncertain default; frames at and
	// after it carry the promoted state.
	assert.Equal(t, model.StateUncertain, records[1].StableState)
	assert.Equal(t, model.StateViolation, records[2].StableState)
	assert.Equal(t, model.StateViolation, records[4].StableState)
	assert.Equal(t, 0.95, records[2].StableConfidence)
}

func TestAlternatingSignalsNeverPromote(t *testing.T) {
	values := []model.ComplianceState{
		model.StateViolation, model.StateNormal,
		model.StateViolation, model.StateNormal,
		model.StateViolation,
	}
	confs := []float64{0.9, 0.1, 0.9, 0.1, 0.9}

	h := scenarioHarness(values, confs)
	records := runScenario(t, h, values, confs)

	assert.Empty(t, drainTransitions(h.state))
	for _, rec := range records {
		assert.Equal(t, model.StateUncertain, rec.StableState)
	}
	assert.Equal(t, int64(0), h.state.Stats().Transitions)
}
