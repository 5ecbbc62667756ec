package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
)

func TestSyntheticFeederProducesAndDrainsOnCancel(t *testing.T) {
	settings := config.DefaultSettings()
	settings.FeederIntervalMs = 1
	svcs := ServicesFactory{CfgSvc: config.NewStatic(settings)}

	ctx, cancel := context.WithCancel(context.Background())
	statsStream := make(chan interface{}, 4)

	out := SyntheticFeeder(ctx, svcs, model.Camera{ID: "cam-a", Name: "entrance"}, nil, statsStream)

	for i := 0; i < 3; i++ {
		select {
		case in := <-out:
			assert.NotEmpty(t, in.Ref.Hash)
			assert.Equal(t, model.FrameSourceLive, in.Source)
			assert.False(t, in.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("feeder produced no frame")
		}
	}

	cancel()

	// The output channel must close once the feeder observes cancellation.
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, ok := <-out:
			open = ok
		case <-deadline:
			t.Fatal("feeder output never closed after cancel")
		}
	}

	select {
	case v := <-statsStream:
		stats, ok := v.(model.FeederStats)
		require.True(t, ok, "unexpected stats type %T", v)
		assert.Equal(t, "syntheticFeeder", stats.Name)
		assert.Equal(t, "entrance", stats.Camera)
		assert.GreaterOrEqual(t, stats.Frames, 3)
	case <-time.After(time.Second):
		t.Fatal("feeder never emitted its stats")
	}
}
