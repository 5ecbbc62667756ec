package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/natefinch/lumberjack"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
	"github.com/guardvision/gv-go/service/lgr"
)

type logService struct {
	cfgSvc    config.IService
	frames    *lumberjack.Logger
	stateWire *lumberjack.Logger
}

// NewLog writes finalized frames and transitions as JSON lines to rolling
// files under the output folder.
func NewLog(cfgSvc config.IService) IService {
	return &logService{
		cfgSvc: cfgSvc,
		frames: &lumberjack.Logger{
			Filename:   fmt.Sprintf("%s/%s", cfgSvc.GetOutputFolder(), cfgSvc.GetEmitterLogFile()),
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     7,    // days
			Compress:   true, // compress old logs
		},
		stateWire: &lumberjack.Logger{
			Filename:   fmt.Sprintf("%s/%s", cfgSvc.GetOutputFolder(), cfgSvc.GetTransitionsLogFile()),
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

func (svc *logService) Emit(frame *model.FrameRecord) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("error marshaling frame %s: %w", frame.FrameID, err)
	}

	if _, err := svc.frames.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("error writing frame %s: %w", frame.FrameID, err)
	}

	return nil
}

func (svc *logService) EmitTransition(transition model.StateTransition) error {
	lgr.Logger.Info(
		"stable state transition",
		slog.String("camera", transition.CameraID),
		slog.String("track", transition.TrackID),
		slog.String("signal", string(transition.Signal)),
		slog.String("from", string(transition.From)),
		slog.String("to", string(transition.To)),
		slog.Float64("confidence", transition.Confidence),
	)

	data, err := json.Marshal(transition)
	if err != nil {
		return fmt.Errorf("error marshaling transition: %w", err)
	}

	if _, err := svc.stateWire.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("error writing transition: %w", err)
	}

	return nil
}
