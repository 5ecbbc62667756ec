package config

import (
	"os"
	"strconv"
	"time"

	"github.com/guardvision/gv-go/model"
)

// NewEnv overlays environment variables on the default settings. Main loads a
// .env file in dev mode before calling this.
func NewEnv() IService {
	settings := DefaultSettings()

	settings.InputFolder = envString("GV_INPUT_FOLDER", settings.InputFolder)
	settings.OutputFolder = envString("GV_OUTPUT_FOLDER", settings.OutputFolder)
	settings.MaxAgentsPerPod = envInt("GV_MAX_AGENTS_PER_POD", settings.MaxAgentsPerPod)

	settings.EngineMaxWorkers = envInt("GV_ENGINE_MAX_WORKERS", settings.EngineMaxWorkers)
	settings.EngineQueueCapacity = envInt("GV_ENGINE_QUEUE_CAPACITY", settings.EngineQueueCapacity)
	settings.FrameHistoryMaxCount = envInt("GV_FRAME_HISTORY_MAX", settings.FrameHistoryMaxCount)
	settings.FeederIntervalMs = envInt("GV_FEEDER_INTERVAL_MS", settings.FeederIntervalMs)
	settings.FeederSkipFrames = envInt("GV_FEEDER_SKIP_FRAMES", settings.FeederSkipFrames)

	settings.StageMaxRetries = envInt("GV_STAGE_MAX_RETRIES", settings.StageMaxRetries)
	settings.StageRetryBackoff = envDuration("GV_STAGE_RETRY_BACKOFF", settings.StageRetryBackoff)
	for _, stage := range []model.StageKind{model.StageSubjects, model.StageAttributes, model.StagePose, model.StageBehavior} {
		key := "GV_STAGE_TIMEOUT_" + string(stage)
		settings.StageTimeout[stage] = envDuration(key, settings.StageTimeout[stage])
	}

	settings.IOUThreshold = envFloat("GV_IOU_THRESHOLD", settings.IOUThreshold)
	settings.MaxDisappeared = envInt("GV_MAX_DISAPPEARED", settings.MaxDisappeared)
	settings.ConfirmHits = envInt("GV_CONFIRM_HITS", settings.ConfirmHits)
	settings.LostGracePeriod = envInt("GV_LOST_GRACE_PERIOD", settings.LostGracePeriod)
	settings.ConfidenceEMAAlpha = envFloat("GV_CONFIDENCE_EMA_ALPHA", settings.ConfidenceEMAAlpha)
	settings.StabilityWindow = envInt("GV_STABILITY_WINDOW", settings.StabilityWindow)

	return NewStatic(settings)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
