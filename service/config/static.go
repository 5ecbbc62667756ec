package config

import (
	"fmt"
	"time"

	"github.com/guardvision/gv-go/model"
)

// Settings holds every tunable the engine consumes. Static per camera: the
// engine reads these once at agent startup and never re-reads mid-stream.
type Settings struct {
	ModeMaxShutdownTime             int
	InputFolder                     string
	OutputFolder                    string
	MaxAgentsPerPod                 int
	AgentPeriodicTimeout            int
	AgentsManagerPeriodicTimeout    int
	AgentsMonitorPeriodicTimeout    int
	AgentsMonitorMaxOrphanedCameras int

	EngineMaxWorkers     int
	EngineQueueCapacity  int
	FrameHistoryMaxCount int
	FeederIntervalMs     int
	FeederSkipFrames     int

	StageEnabled      map[model.StageKind]bool
	StageTimeout      map[model.StageKind]time.Duration
	StageMaxRetries   int
	StageRetryBackoff time.Duration

	IOUThreshold       float64
	MaxDisappeared     int
	ConfirmHits        int
	LostGracePeriod    int
	ConfidenceEMAAlpha float64

	StabilityWindow    int
	TransitionsLogFile string
	EmitterLogFile     string

	Detectors map[string]DetectorParameters
}

// DefaultSettings are the values the engine runs with when nothing overrides
// them.
func DefaultSettings() Settings {
	return Settings{
		ModeMaxShutdownTime:             5,
		InputFolder:                     "./settings",
		OutputFolder:                    "./output",
		MaxAgentsPerPod:                 4,
		AgentPeriodicTimeout:            30,
		AgentsManagerPeriodicTimeout:    30,
		AgentsMonitorPeriodicTimeout:    30,
		AgentsMonitorMaxOrphanedCameras: 10,

		EngineMaxWorkers:     3,
		EngineQueueCapacity:  30,
		FrameHistoryMaxCount: 512,
		FeederIntervalMs:     100,
		FeederSkipFrames:     0,

		StageEnabled: map[model.StageKind]bool{
			model.StageSubjects:   true,
			model.StageAttributes: true,
			model.StagePose:       true,
			model.StageBehavior:   true,
		},
		StageTimeout: map[model.StageKind]time.Duration{
			model.StageSubjects:   2 * time.Second,
			model.StageAttributes: 1 * time.Second,
			model.StagePose:       1 * time.Second,
			model.StageBehavior:   1 * time.Second,
		},
		StageMaxRetries:   2,
		StageRetryBackoff: 50 * time.Millisecond,

		IOUThreshold:       0.3,
		MaxDisappeared:     5,
		ConfirmHits:        3,
		LostGracePeriod:    10,
		ConfidenceEMAAlpha: 0.3,

		StabilityWindow:    3,
		TransitionsLogFile: "transitions.log",
		EmitterLogFile:     "frames.log",

		Detectors: map[string]DetectorParameters{
			Yolo5DetectorName: {
				ModelPath:                 "./yolo5/yolov5s.onnx",
				CocoNamesPath:             "./yolo5/coco.names",
				ConfidenceThreshold:       0.7,
				ObjectConfidenceThreshold: 0.5,
				Logging:                   false,
			},
		},
	}
}

type staticService struct {
	settings Settings
}

// NewStatic wraps a fully-populated Settings value. Tests use it to pin the
// exact thresholds a scenario needs.
func NewStatic(settings Settings) IService {
	return &staticService{settings: settings}
}

// NewHardCoded returns the default settings.
func NewHardCoded() IService {
	return NewStatic(DefaultSettings())
}

func (svc *staticService) GetModeMaxShutdownTime() int {
	return svc.settings.ModeMaxShutdownTime
}

func (svc *staticService) GetInputFolder() string {
	return svc.settings.InputFolder
}

func (svc *staticService) GetCamerasInputFile() string {
	return fmt.Sprintf("%s/cameras.json", svc.settings.InputFolder)
}

func (svc *staticService) GetOutputFolder() string {
	return svc.settings.OutputFolder
}

func (svc *staticService) GetMaxAgentsPerPod() int {
	return svc.settings.MaxAgentsPerPod
}

func (svc *staticService) GetAgentPeriodicTimeout() int {
	return svc.settings.AgentPeriodicTimeout
}

func (svc *staticService) GetAgentsManagerPeriodicTimeout() int {
	return svc.settings.AgentsManagerPeriodicTimeout
}

func (svc *staticService) GetAgentsMonitorPeriodicTimeout() int {
	return svc.settings.AgentsMonitorPeriodicTimeout
}

func (svc *staticService) GetAgentsMonitorMaxOrphanedCameras() int {
	return svc.settings.AgentsMonitorMaxOrphanedCameras
}

func (svc *staticService) GetEngineMaxWorkers() int {
	return svc.settings.EngineMaxWorkers
}

func (svc *staticService) GetEngineQueueCapacity() int {
	return svc.settings.EngineQueueCapacity
}

func (svc *staticService) GetFrameHistoryMaxCount() int {
	return svc.settings.FrameHistoryMaxCount
}

func (svc *staticService) GetFeederIntervalMs() int {
	return svc.settings.FeederIntervalMs
}

func (svc *staticService) GetFeederSkipFrames() int {
	return svc.settings.FeederSkipFrames
}

func (svc *staticService) GetStageEnabled(stage model.StageKind) bool {
	enabled, ok := svc.settings.StageEnabled[stage]
	if !ok {
		return false
	}
	return enabled
}

func (svc *staticService) GetStageTimeout(stage model.StageKind) time.Duration {
	timeout, ok := svc.settings.StageTimeout[stage]
	if !ok {
		return time.Second
	}
	return timeout
}

func (svc *staticService) GetStageMaxRetries() int {
	return svc.settings.StageMaxRetries
}

func (svc *staticService) GetStageRetryBackoff() time.Duration {
	return svc.settings.StageRetryBackoff
}

func (svc *staticService) GetIOUThreshold() float64 {
	return svc.settings.IOUThreshold
}

func (svc *staticService) GetMaxDisappeared() int {
	return svc.settings.MaxDisappeared
}

func (svc *staticService) GetConfirmHits() int {
	return svc.settings.ConfirmHits
}

func (svc *staticService) GetLostGracePeriod() int {
	return svc.settings.LostGracePeriod
}

func (svc *staticService) GetConfidenceEMAAlpha() float64 {
	return svc.settings.ConfidenceEMAAlpha
}

func (svc *staticService) GetStabilityWindow() int {
	return svc.settings.StabilityWindow
}

func (svc *staticService) GetTransitionsLogFile() string {
	return svc.settings.TransitionsLogFile
}

func (svc *staticService) GetEmitterLogFile() string {
	return svc.settings.EmitterLogFile
}

func (svc *staticService) GetDetectorParameters(name string) DetectorParameters {
	params, ok := svc.settings.Detectors[name]
	if !ok {
		return DetectorParameters{}
	}
	return params
}
