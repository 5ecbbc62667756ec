package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/guardvision/gv-go/frames"
	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/detector"
	"github.com/guardvision/gv-go/service/lgr"
	"github.com/guardvision/gv-go/state"
	"github.com/guardvision/gv-go/tracker"
)

// Feeder processes
var feederProcs = map[string]Feeder{}

func RegisterFeeder(name string, feeder Feeder) {
	if _, ok := feederProcs[name]; ok {
		lgr.Logger.Warn("feeder already registered", slog.String("name", name))
		return
	}
	feederProcs[name] = feeder
}

// Agent runs the full detection engine for one camera: feeder -> bounded
// queue -> orchestrator workers -> in-order release to the emitter. It owns
// the camera's frame manager, tracker and state manager; nothing is shared
// across cameras.
func Agent(canxCtx context.Context,
	svcs ServicesFactory,
	adapters detector.Adapters,
	errorStream chan interface{},
	statsStream chan interface{},
	camera model.Camera) error {
	// A queued or in-flight frame must never be evicted from the history
	// before a worker finalizes it; a gap in the sequence would stall the
	// in-order release buffer forever.
	historyMax := svcs.CfgSvc.GetFrameHistoryMaxCount()
	needed := svcs.CfgSvc.GetEngineQueueCapacity() + svcs.CfgSvc.GetEngineMaxWorkers()
	if historyMax <= needed {
		return fmt.Errorf("frame history max %d must exceed queue capacity plus workers (%d)", historyMax, needed)
	}

	agentID := uuid.NewString()
	lgr.Logger.Info(
		"agent starting....",
		slog.String("agentID", agentID),
		slog.String("camera", camera.Name),
		slog.String("feederType", camera.FeederType),
	)

	// OTEL stats
	var agentStartTime = time.Now().Unix()
	agentStats := model.AgentStats{
		ID:     agentID,
		Camera: camera.Name,
		Uptime: agentStartTime,
	}

	// Update the camera agent id
	err := svcs.DataSvc.UpdateCameraAgentID(camera.ID, agentID)
	if err != nil {
		return fmt.Errorf("error updating camera agent id: %w", err)
	}

	feederName := camera.FeederType
	if feederName == "" {
		feederName = "synthetic"
	}
	feeder, ok := feederProcs[feederName]
	if !ok {
		return fmt.Errorf("feeder %s not found", feederName)
	}

	// Per-camera engine components
	frameMgr := frames.NewManager(svcs.CfgSvc.GetFrameHistoryMaxCount(), clock.New())
	trk := tracker.New(camera.ID, svcs.CfgSvc)
	stateMgr := state.NewManager(camera.ID, svcs.CfgSvc, clock.New()).WithTransitionLog()
	trk.OnRemove(stateMgr.MarkTrackRemoved)
	orch := NewOrchestrator(camera.ID, svcs.CfgSvc, adapters, frameMgr, trk, stateMgr)

	queue := NewQueue(svcs.CfgSvc.GetEngineQueueCapacity())
	reorder := NewReorder(1, func(rec *model.FrameRecord) {
		if err := svcs.EmitterSvc.Emit(rec); err != nil {
			errorStream <- model.GenError("engine_emit",
				err,
				map[string]interface{}{"frame": rec.FrameID},
				"error emitting frame")
		}
	})

	// Start the frame feeder
	frameStream := feeder(canxCtx, svcs, camera, errorStream, statsStream)

	// Intake: register frames and queue them; overflow finalizes the oldest
	// queued frame as failed so the release order never has gaps.
	go func() {
		for {
			select {
			case <-canxCtx.Done():
				lgr.Logger.Info("agent intake context cancelled")
				return
			case input, chanOk := <-frameStream:
				if !chanOk {
					return
				}

				rec, err := frameMgr.Create(input.Ref, camera.ID, input.Source, input.Timestamp)
				if err != nil {
					errorStream <- model.GenError("engine_intake",
						err,
						map[string]interface{}{},
						"error creating frame record")
					continue
				}

				droppedID, dropped := queue.Push(rec.FrameID)
				if !dropped {
					continue
				}

				droppedRec, err := frameMgr.SetStage(droppedID, model.FrameStageFailed, frames.DetectionUpdate{
					Status: map[model.StageKind]model.StageStatus{model.StageSubjects: model.StageStatusCancelled},
					Detail: map[model.StageKind]string{model.StageSubjects: "dropped by queue overflow"},
				}, false)
				if err != nil {
					errorStream <- model.GenError("engine_intake",
						err,
						map[string]interface{}{"frame": droppedID},
						"error finalizing dropped frame")
					continue
				}
				reorder.Complete(droppedRec)
			}
		}
	}()

	// Launch worker processes that compete on emptying/processing frames.
	// Frames are picked up strictly in arrival order; completions are put
	// back in order by the reorder buffer.
	for i := 0; i < svcs.CfgSvc.GetEngineMaxWorkers(); i++ {
		worker := i
		go func(worker int) {
			framesDone := 0
			shortCircuits := 0
			degraded := 0
			failed := 0
			errors := 0
			beginTime := time.Now().Unix()

			var totalProcTime time.Duration

			defer func() {
				uptime := time.Now().Unix() - beginTime
				var avgProcTime float64
				if framesDone > 0 {
					avgProcTime = totalProcTime.Seconds() / float64(framesDone)
				}

				statsStream <- model.EngineStats{
					Name:          "detectionEngine",
					Worker:        worker,
					Camera:        camera.Name,
					Frames:        framesDone,
					ShortCircuits: shortCircuits,
					Degraded:      degraded,
					Failed:        failed,
					Dropped:       queue.Dropped(),
					Errors:        errors,
					Uptime:        uptime,
					AvgProcTime:   avgProcTime,
				}
			}()

			for {
				frameID, err := queue.Pop(canxCtx)
				if err != nil {
					lgr.Logger.Info(
						"engine worker context cancelled",
						slog.Int("worker", worker),
					)
					return
				}

				startProc := time.Now()
				rec, procErr := orch.Process(canxCtx, frameID)
				framesDone++
				totalProcTime += time.Since(startProc)

				if procErr != nil {
					errors++
					errorStream <- model.GenError("engine_worker",
						procErr,
						map[string]interface{}{"frame": frameID, "worker": worker},
						"error processing frame")
				}
				if rec == nil {
					continue
				}

				switch {
				case rec.Stage == model.FrameStageFailed:
					failed++
				case rec.Degraded:
					degraded++
				case len(rec.Subjects) == 0:
					shortCircuits++
				}

				if rec.Stage.Finalized() {
					reorder.Complete(rec)
				}
			}
		}(worker)
	}

	// Forward stable-state transitions to the emitter
	go func() {
		for {
			select {
			case <-canxCtx.Done():
				return
			case transition := <-stateMgr.Transitions():
				if err := svcs.EmitterSvc.EmitTransition(transition); err != nil {
					errorStream <- model.GenError("engine_transitions",
						err,
						map[string]interface{}{},
						"error emitting transition")
				}
			}
		}
	}()

	// Monitor cancellations and update heartbeats
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"agent context cancelled",
			)
			return nil

		case <-time.After(time.Duration(time.Duration(svcs.CfgSvc.GetAgentPeriodicTimeout()) * time.Second)):
			// Update the agent heartbeat so that the agents monitor would know
			// that the agent is alive and kicking and does not need to be re-scheduled
			err := svcs.DataSvc.UpdateCameraAgentHeartbeat(camera.ID)
			if err != nil {
				lgr.Logger.Error(
					"error updating camera agent heartbeat",
					slog.Any("error", err),
				)
			}

			agentStats.Uptime = time.Now().Unix() - agentStartTime

			// Send the stats to OTEL
			statsStream <- agentStats
			statsStream <- trk.Stats()
			statsStream <- stateMgr.Stats()
		}
	}
}
