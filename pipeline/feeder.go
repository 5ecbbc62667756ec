package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/lgr"
)

// SyntheticFeeder generates frame inputs at the configured interval. Used by
// the demo host and for load-testing the engine without a live stream; the
// refs it hands out carry no pixel data, so it pairs with fake adapters.
func SyntheticFeeder(canx context.Context, svcs ServicesFactory, camera model.Camera, _ chan interface{}, statsStream chan interface{}) chan FrameInput {
	out := make(chan FrameInput, 100)

	go func() {
		defer close(out)

		var startTime = time.Now().Unix()
		var frames = 0
		var skippedFrames = 0
		var errors = 0

		defer func() {
			uptime := time.Now().Unix() - startTime
			fps := 0
			if uptime > 0 {
				fps = int(float64(frames) / float64(uptime))
			}
			statsStream <- model.FeederStats{
				Name:          "syntheticFeeder",
				Camera:        camera.Name,
				Frames:        frames,
				SkippedFrames: skippedFrames,
				Errors:        errors,
				Uptime:        uptime,
				FPS:           fps,
			}
		}()

		interval := time.Duration(svcs.CfgSvc.GetFeederIntervalMs()) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Generate frames and monitor cancellations
		for {
			select {
			case <-canx.Done():
				lgr.Logger.Info(
					"syntheticFeeder context cancelled",
				)
				return

			case <-ticker.C:
				frames++
				// Determine if we should skip the frame
				if skip := svcs.CfgSvc.GetFeederSkipFrames(); skip > 0 && frames%(skip+1) != 0 {
					skippedFrames++
					continue
				}

				input := FrameInput{
					Ref:       model.FrameRef{Hash: uuid.NewString()},
					Source:    model.FrameSourceLive,
					Timestamp: time.Now(),
				}

				// WARNING: We need an extra check to make sure we don't send on a closed channel
				select {
				case <-canx.Done():
					lgr.Logger.Info("syntheticFeeder context cancelled while sending!!")
					return
				case out <- input:
					// Successfully sent to the channel
				}
			}
		}
	}()

	return out
}
