package config

import (
	"time"

	"github.com/guardvision/gv-go/model"
)

type IService interface {
	GetModeMaxShutdownTime() int
	GetInputFolder() string
	GetCamerasInputFile() string
	GetOutputFolder() string
	GetMaxAgentsPerPod() int
	GetAgentPeriodicTimeout() int
	GetAgentsManagerPeriodicTimeout() int
	GetAgentsMonitorPeriodicTimeout() int
	GetAgentsMonitorMaxOrphanedCameras() int

	// Engine
	GetEngineMaxWorkers() int
	GetEngineQueueCapacity() int
	GetFrameHistoryMaxCount() int
	GetFeederIntervalMs() int
	GetFeederSkipFrames() int

	// Stages
	GetStageEnabled(stage model.StageKind) bool
	GetStageTimeout(stage model.StageKind) time.Duration
	GetStageMaxRetries() int
	GetStageRetryBackoff() time.Duration

	// Tracker
	GetIOUThreshold() float64
	GetMaxDisappeared() int
	GetConfirmHits() int
	GetLostGracePeriod() int
	GetConfidenceEMAAlpha() float64

	// State manager
	GetStabilityWindow() int
	GetTransitionsLogFile() string
	GetEmitterLogFile() string

	// Detector adapters
	GetDetectorParameters(name string) DetectorParameters
}

const (
	Yolo5DetectorName = "yolo5Detector"
)

type DetectorParameters struct {
	ModelPath                 string
	CocoNamesPath             string
	ConfidenceThreshold       float32
	ObjectConfidenceThreshold float32
	Logging                   bool
}
