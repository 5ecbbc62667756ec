package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/pipeline"
	"github.com/guardvision/gv-go/service/detector"
	"github.com/guardvision/gv-go/service/lgr"
)

// The agents monitor is responsible for monitoring for orphaned cameras
// and publishing them so they can be picked up by an agents manager
func Monitor(canxCtx context.Context, svcs pipeline.ServicesFactory, _ detector.Adapters) error {
	// Create an error stream. Buffered because the monitor loop is both the
	// producer and the consumer.
	errorStream := make(chan interface{}, 10)
	defer close(errorStream)

	// Wait for cancellation or timeout
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"agents monitor context cancelled",
			)
			goto resume

		case <-time.After(time.Duration(time.Duration(svcs.CfgSvc.GetAgentsMonitorPeriodicTimeout()) * time.Second)):
			// Retrieve orphaned cameras
			cameras, err := svcs.DataSvc.RetrieveOrphanedCameras(svcs.CfgSvc.GetAgentsMonitorMaxOrphanedCameras())
			if err != nil {
				errorStream <- model.GenError("agents_monitor",
					err,
					map[string]interface{}{},
					"error retrieving orphaned cameras")
				continue
			}

			// Publish orphaned cameras through the registry service
			err = svcs.RegistrySvc.Publish(cameras)
			if err != nil {
				errorStream <- model.GenError("agents_monitor",
					err,
					map[string]interface{}{},
					"error publishing through registry service")
				continue
			}

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Wait in a non-blocking way for the shutdown duration for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are exiting
resume:
	lgr.Logger.Info(
		"agents monitor is waiting for all go routines to exit",
	)

	// The only way to exit the main function is to wait for the shutdown
	// duration
	timer := time.NewTimer(time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"agents monitor shutdown waiting period expired. Exiting now",
				slog.Duration("period", time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime())*time.Second),
			)

			return nil

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}
