package mode

import (
	"context"
	"log/slog"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/pipeline"
	"github.com/guardvision/gv-go/service/data"
	"github.com/guardvision/gv-go/service/detector"
	"github.com/guardvision/gv-go/service/lgr"
)

type Processor func(canxCtx context.Context,
	svcs pipeline.ServicesFactory,
	adapters detector.Adapters) error

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.AgentsManagerStats:
		procAgentsManagerStats(datasvc, stats)
	case model.AgentStats:
		procAgentStats(datasvc, stats)
	case model.FeederStats:
		procFeederStats(datasvc, stats)
	case model.EngineStats:
		procEngineStats(datasvc, stats)
	case model.TrackerStats:
		procTrackerStats(datasvc, stats)
	case model.StateStats:
		procStateStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procAgentsManagerStats(datasvc data.IService, stats model.AgentsManagerStats) {
	err := datasvc.NewAgentsManagerStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store agents manager stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procAgentStats(datasvc data.IService, stats model.AgentStats) {
	err := datasvc.NewAgentStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store agent stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procFeederStats(datasvc data.IService, stats model.FeederStats) {
	err := datasvc.NewFeederStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store feeder stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procEngineStats(datasvc data.IService, stats model.EngineStats) {
	err := datasvc.NewEngineStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store engine stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procTrackerStats(datasvc data.IService, stats model.TrackerStats) {
	err := datasvc.NewTrackerStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store tracker stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procStateStats(datasvc data.IService, stats model.StateStats) {
	err := datasvc.NewStateStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store state stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
