package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
	"github.com/guardvision/gv-go/service/detector"
)

func TestAgentRejectsUndersizedFrameHistory(t *testing.T) {
	settings := config.DefaultSettings()
	settings.FrameHistoryMaxCount = 16
	settings.EngineQueueCapacity = 30
	settings.EngineMaxWorkers = 3
	svcs := ServicesFactory{CfgSvc: config.NewStatic(settings)}

	err := Agent(context.Background(), svcs, detector.Adapters{}, nil, nil, model.Camera{ID: "cam-a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame history max")
}
