package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/guardvision/gv-go/frames"
	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
	"github.com/guardvision/gv-go/service/detector"
	"github.com/guardvision/gv-go/service/lgr"
	"github.com/guardvision/gv-go/state"
	"github.com/guardvision/gv-go/tracker"
)

var (
	ErrStageTimeout   = errors.New("stage timed out")
	ErrStageInference = errors.New("stage inference failed")
)

// Orchestrator drives the fixed stage graph over one frame at a time:
//
//  1. primary-subject detection (blocking; zero subjects short-circuits)
//  2. attribute + pose detection fanned out per subject, joined at a barrier
//  3. behavior classification per subject, consuming pose + track continuity
//
// Non-critical stage failures degrade the frame instead of failing it; only a
// primary-subject failure fails the whole frame.
type Orchestrator struct {
	cameraID string
	cfgSvc   config.IService
	adapters detector.Adapters
	frames   *frames.Manager
	tracker  *tracker.Tracker
	state    *state.Manager
	tracer   trace.Tracer
}

func NewOrchestrator(
	cameraID string,
	cfgSvc config.IService,
	adapters detector.Adapters,
	framesMgr *frames.Manager,
	trk *tracker.Tracker,
	stateMgr *state.Manager,
) *Orchestrator {
	return &Orchestrator{
		cameraID: cameraID,
		cfgSvc:   cfgSvc,
		adapters: adapters,
		frames:   framesMgr,
		tracker:  trk,
		state:    stateMgr,
		tracer:   noop.NewTracerProvider().Tracer("gv-go/pipeline"),
	}
}

// WithTracer swaps the default noop tracer for a real one.
func (o *Orchestrator) WithTracer(tracer trace.Tracer) *Orchestrator {
	o.tracer = tracer
	return o
}

// Process runs the stage graph for one frame and returns its finalized
// record. The returned error is non-nil only for frame-level failures: an
// unknown frame, a primary-subject stage failure, cancellation, or a
// sequencing fault surfaced by the tracker or state manager.
func (o *Orchestrator) Process(ctx context.Context, frameID string) (*model.FrameRecord, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	rec, err := o.frames.Get(frameID)
	if err != nil {
		return nil, err
	}

	if rec, err = o.frames.SetStage(frameID, model.FrameStageProcessing, frames.DetectionUpdate{}, false); err != nil {
		return rec, err
	}

	baseReq := detector.Request{
		CameraID: o.cameraID,
		FrameID:  frameID,
		Ref:      rec.Ref,
	}

	// Stage 1: primary subjects. The only stage whose failure fails the frame.
	if !o.cfgSvc.GetStageEnabled(model.StageSubjects) || o.adapters.Subjects == nil {
		return o.frames.SetStage(frameID, model.FrameStageCompleted, frames.DetectionUpdate{
			Status: map[model.StageKind]model.StageStatus{model.StageSubjects: model.StageStatusSkipped},
		}, false)
	}

	dets, status, err := o.runStage(ctx, model.StageSubjects, o.adapters.Subjects, baseReq)
	if err != nil {
		rec, ferr := o.frames.SetStage(frameID, model.FrameStageFailed, frames.DetectionUpdate{
			Status: map[model.StageKind]model.StageStatus{model.StageSubjects: status},
			Detail: map[model.StageKind]string{model.StageSubjects: err.Error()},
		}, false)
		if ferr != nil {
			return rec, ferr
		}
		return rec, fmt.Errorf("frame %s: primary-subject stage: %w", frameID, err)
	}

	subjects := make([]model.SubjectDetection, 0, len(dets))
	for _, d := range dets {
		subjects = append(subjects, model.SubjectDetection{Detection: d})
	}

	if _, err = o.frames.UpdateDetections(frameID, frames.DetectionUpdate{
		Subjects: subjects,
		Status:   map[model.StageKind]model.StageStatus{model.StageSubjects: model.StageStatusOK},
	}); err != nil {
		return nil, err
	}

	// Fast path: nothing in frame, skip all downstream stages.
	if len(subjects) == 0 {
		return o.frames.SetStage(frameID, model.FrameStageCompleted, frames.DetectionUpdate{}, false)
	}

	assignments := o.tracker.Update(frameID, subjects)

	// Stage 2: attribute + pose fan-out, one task per (subject, stage),
	// joined here. Failures are absorbed per stage and degrade the frame.
	attrsBySubject := make([][]model.AttributeDetection, len(subjects))
	posesBySubject := make([][]model.PoseDetection, len(subjects))

	var mu sync.Mutex
	var attrErr, poseErr error

	attrEnabled := o.cfgSvc.GetStageEnabled(model.StageAttributes) && o.adapters.Attributes != nil
	poseEnabled := o.cfgSvc.GetStageEnabled(model.StagePose) && o.adapters.Pose != nil

	g, gctx := errgroup.WithContext(ctx)
	for i := range subjects {
		subjReq := baseReq
		subjReq.Subject = &subjects[i]
		subjReq.SubjectIndex = i

		if attrEnabled {
			g.Go(func() error {
				dets, _, err := o.runStage(gctx, model.StageAttributes, o.adapters.Attributes, subjReq)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					attrErr = multierr.Append(attrErr, err)
					return nil
				}
				for _, d := range dets {
					attrsBySubject[subjReq.SubjectIndex] = append(attrsBySubject[subjReq.SubjectIndex],
						model.AttributeDetection{Detection: d, SubjectIndex: subjReq.SubjectIndex})
				}
				return nil
			})
		}

		if poseEnabled {
			g.Go(func() error {
				dets, _, err := o.runStage(gctx, model.StagePose, o.adapters.Pose, subjReq)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					poseErr = multierr.Append(poseErr, err)
					return nil
				}
				for _, d := range dets {
					posesBySubject[subjReq.SubjectIndex] = append(posesBySubject[subjReq.SubjectIndex],
						model.PoseDetection{Detection: d, SubjectIndex: subjReq.SubjectIndex})
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return o.failCancelled(frameID, model.StageAttributes, ctx.Err())
	}

	var attrs []model.AttributeDetection
	var poses []model.PoseDetection
	for i := range subjects {
		attrs = append(attrs, attrsBySubject[i]...)
		poses = append(poses, posesBySubject[i]...)
	}

	update := frames.DetectionUpdate{
		Attributes: attrs,
		Poses:      poses,
		Status:     map[model.StageKind]model.StageStatus{},
		Detail:     map[model.StageKind]string{},
	}
	if attrs == nil {
		update.Attributes = []model.AttributeDetection{}
	}
	if poses == nil {
		update.Poses = []model.PoseDetection{}
	}
	recordStage(update, model.StageAttributes, attrEnabled, attrErr)
	recordStage(update, model.StagePose, poseEnabled, poseErr)

	if _, err = o.frames.UpdateDetections(frameID, update); err != nil {
		return nil, err
	}

	// Stage 3: behavior classification, once per subject, after the join.
	var behaviorErr error
	behaviors := []model.BehaviorDetection{}
	behaviorEnabled := o.cfgSvc.GetStageEnabled(model.StageBehavior) && o.adapters.Behavior != nil
	if behaviorEnabled {
		for _, a := range assignments {
			req := baseReq
			req.Subject = &subjects[a.DetectionIndex]
			req.SubjectIndex = a.DetectionIndex
			req.Poses = posesBySubject[a.DetectionIndex]
			req.TrackID = a.TrackID

			dets, _, err := o.runStage(ctx, model.StageBehavior, o.adapters.Behavior, req)
			if err != nil {
				behaviorErr = multierr.Append(behaviorErr, err)
				continue
			}
			for _, d := range dets {
				behaviors = append(behaviors, behaviorFrom(d, a.DetectionIndex, a.TrackID))
			}
		}
	}

	if ctx.Err() != nil {
		return o.failCancelled(frameID, model.StageBehavior, ctx.Err())
	}

	behaviorUpdate := frames.DetectionUpdate{
		Behaviors: behaviors,
		Status:    map[model.StageKind]model.StageStatus{},
		Detail:    map[model.StageKind]string{},
	}
	recordStage(behaviorUpdate, model.StageBehavior, behaviorEnabled, behaviorErr)
	if _, err = o.frames.UpdateDetections(frameID, behaviorUpdate); err != nil {
		return nil, err
	}

	if err := o.applySignals(frameID, assignments, behaviors); err != nil {
		rec, ferr := o.frames.SetStage(frameID, model.FrameStageFailed, frames.DetectionUpdate{
			Detail: map[model.StageKind]string{model.StageBehavior: err.Error()},
		}, false)
		if ferr != nil {
			return rec, ferr
		}
		return rec, err
	}

	degradedErr := multierr.Combine(attrErr, poseErr, behaviorErr)
	if degradedErr != nil {
		lgr.Logger.Debug(
			"frame completed degraded",
			slog.String("frame", frameID),
			slog.Any("error", degradedErr),
		)
	}

	return o.frames.SetStage(frameID, model.FrameStageCompleted, frames.DetectionUpdate{}, degradedErr != nil)
}

// applySignals feeds each behavior signal on a confirmed track through the
// state manager and stamps the frame with the worst stable state seen.
// Tracker/state errors are sequencing faults: surfaced, never retried.
func (o *Orchestrator) applySignals(frameID string, assignments []tracker.Assignment, behaviors []model.BehaviorDetection) error {
	confirmed := map[string]bool{}
	for _, a := range assignments {
		if a.Track.Lifecycle == model.TrackConfirmed {
			confirmed[a.TrackID] = true
		}
	}

	worst := model.ComplianceState("")
	worstConf := 0.0
	for _, b := range behaviors {
		if !confirmed[b.TrackID] {
			continue
		}

		stable, conf, err := o.state.Update(frameID, b.TrackID, b.Signal, b.Value, b.Confidence)
		if err != nil {
			return fmt.Errorf("frame %s: state update for track %s: %w", frameID, b.TrackID, err)
		}

		if severity(stable) > severity(worst) {
			worst = stable
			worstConf = conf
		}
	}

	if worst == "" {
		return nil
	}

	_, err := o.frames.UpdateState(frameID, worst, worstConf)
	return err
}

// runStage invokes one adapter with a per-stage timeout, retrying transient
// failures with backoff. Retries happen only here, never in tracker or state
// logic.
func (o *Orchestrator) runStage(ctx context.Context, kind model.StageKind, adapter detector.IService, req detector.Request) ([]model.Detection, model.StageStatus, error) {
	timeout := o.cfgSvc.GetStageTimeout(kind)
	retries := o.cfgSvc.GetStageMaxRetries()
	backoff := o.cfgSvc.GetStageRetryBackoff()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, model.StageStatusCancelled, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		sctx, span := o.tracer.Start(ctx, "stage."+string(kind))
		sctx, cancel := context.WithTimeout(sctx, timeout)
		dets, err := adapter.Detect(sctx, req)
		cancel()
		span.End()

		if err == nil {
			return dets, model.StageStatusOK, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, model.StageStatusCancelled, ctx.Err()
		}

		lgr.Logger.Debug(
			"stage attempt failed",
			slog.String("stage", string(kind)),
			slog.String("adapter", adapter.Name()),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, model.StageStatusTimeout, fmt.Errorf("%w: %s after %s: %s", ErrStageTimeout, kind, timeout, lastErr)
	}
	return nil, model.StageStatusFailed, fmt.Errorf("%w: %s: %s", ErrStageInference, kind, lastErr)
}

func (o *Orchestrator) failCancelled(frameID string, kind model.StageKind, cause error) (*model.FrameRecord, error) {
	rec, err := o.frames.SetStage(frameID, model.FrameStageFailed, frames.DetectionUpdate{
		Status: map[model.StageKind]model.StageStatus{kind: model.StageStatusCancelled},
	}, false)
	if err != nil {
		return rec, err
	}
	return rec, fmt.Errorf("frame %s cancelled: %w", frameID, cause)
}

func severity(s model.ComplianceState) int {
	switch s {
	case model.StateViolation:
		return 3
	case model.StateNormal:
		return 2
	case model.StateUncertain:
		return 1
	}
	return 0
}

func recordStage(update frames.DetectionUpdate, kind model.StageKind, enabled bool, stageErr error) {
	switch {
	case !enabled:
		update.Status[kind] = model.StageStatusSkipped
	case stageErr == nil:
		update.Status[kind] = model.StageStatusOK
	case errors.Is(stageErr, ErrStageTimeout):
		update.Status[kind] = model.StageStatusTimeout
		update.Detail[kind] = stageErr.Error()
	default:
		update.Status[kind] = model.StageStatusFailed
		update.Detail[kind] = stageErr.Error()
	}
}

func behaviorFrom(det model.Detection, subjectIndex int, trackID string) model.BehaviorDetection {
	signal := model.SignalKind(det.Attrs["signal"])
	if signal == "" {
		signal = model.SignalGear
	}

	value := model.ComplianceState(det.Class)
	switch value {
	case model.StateNormal, model.StateViolation, model.StateUncertain:
	default:
		value = model.StateUncertain
	}

	return model.BehaviorDetection{
		Detection:    det,
		SubjectIndex: subjectIndex,
		TrackID:      trackID,
		Signal:       signal,
		Value:        value,
	}
}
