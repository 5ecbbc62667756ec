package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/guardvision/gv-go/mode"
	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/pipeline"
	"github.com/guardvision/gv-go/service/config"
	"github.com/guardvision/gv-go/service/data"
	"github.com/guardvision/gv-go/service/detector"
	"github.com/guardvision/gv-go/service/emitter"
	"github.com/guardvision/gv-go/service/lgr"
	"github.com/guardvision/gv-go/service/registry"
)

const (
	// WARNING: this has to be bigger than the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"manager": mode.Manager,
	"monitor": mode.Monitor,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Error("error loading .env file", slog.Any("error", xerrors.New(err.Error())))
			panic("error loading .env file")
		}
	}

	modeType := "manager"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	color.Cyan("guardvision engine pod")
	color.Yellow("mode: %s", modeType)

	// Create the services needed for the mode processor
	// They can be overridden by the mode processor with different implementations
	// Config service
	cfgSvc := config.NewEnv()
	// Data service
	dataSvc := data.NewFilesDB(cfgSvc)
	// Registry service
	registrySvc := registry.NewTimed(canxCtx, cfgSvc, dataSvc)
	// Emitter service
	emitterSvc := emitter.NewLog(cfgSvc)

	svcs := pipeline.ServicesFactory{
		CfgSvc:      cfgSvc,
		DataSvc:     dataSvc,
		RegistrySvc: registrySvc,
		EmitterSvc:  emitterSvc,
	}

	// Register the frame feeders available to camera agents
	pipeline.RegisterFeeder("synthetic", pipeline.SyntheticFeeder)

	// Wire the stage adapters. A real deployment swaps in detector.NewYolo5
	// and friends; the fakes below exercise the full stage graph without
	// any model files.
	adapters := demoAdapters()

	// Create mode processor result
	modeProcResult := make(chan error)
	defer close(modeProcResult)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, adapters)
	}()

	// Wait for cancellation, mode proc, stats or error
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"engine pod context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"engine pod mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
			goto resume
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are exiting
resume:
	// Cancel the context if not already cancelled
	if canxCtx.Err() == nil {
		// Force cancel the context
		canxFn()
	}

	lgr.Logger.Info(
		"engine pod is waiting for all go routines to exit",
	)

	// The only way to exit the main function is to wait for the shutdown
	// duration
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"engine pod shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)

			return

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"engine pod mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
		}
	}
}

// demoAdapters builds a full stage graph out of scripted fakes: one subject
// wandering across the frame, a hard-hat attribute, a walking pose and a
// behavior classifier that flags the subject every few hundred frames.
func demoAdapters() detector.Adapters {
	var frameCount atomic.Int64

	subjects := detector.NewFunc("demoSubjects", detector.KindSubjects,
		func(_ context.Context, _ detector.Request) ([]model.Detection, error) {
			n := frameCount.Add(1)
			// Leave most frames empty so the short-circuit fast path shows up
			if n%4 != 0 {
				return []model.Detection{}, nil
			}
			drift := float64(n % 40)
			return []model.Detection{{
				BBox:       model.BBox{X1: 100 + drift, Y1: 80, X2: 180 + drift, Y2: 260},
				Confidence: 0.92,
				Class:      "person",
			}}, nil
		})

	attributes := detector.NewFake("demoAttributes", detector.KindAttribute,
		[]model.Detection{{
			BBox:       model.BBox{X1: 110, Y1: 80, X2: 170, Y2: 120},
			Confidence: 0.88,
			Class:      "hard-hat",
		}})

	pose := detector.NewFake("demoPose", detector.KindPose,
		[]model.Detection{{
			BBox:       model.BBox{X1: 100, Y1: 80, X2: 180, Y2: 260},
			Confidence: 0.8,
			Class:      "walking",
		}})

	behavior := detector.NewFunc("demoBehavior", detector.KindBehavior,
		func(_ context.Context, req detector.Request) ([]model.Detection, error) {
			value := string(model.StateNormal)
			if frameCount.Load()%400 == 0 {
				value = string(model.StateViolation)
			}
			return []model.Detection{{
				BBox:       req.Subject.BBox,
				Confidence: 0.9,
				Class:      value,
				Attrs:      map[string]string{"signal": string(model.SignalGear)},
			}}, nil
		})

	return detector.Adapters{
		Subjects:   subjects,
		Attributes: attributes,
		Pose:       pose,
		Behavior:   behavior,
	}
}
