package pipeline

import (
	"context"
	"time"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
	"github.com/guardvision/gv-go/service/data"
	"github.com/guardvision/gv-go/service/emitter"
	"github.com/guardvision/gv-go/service/registry"
)

// FrameInput is one raw frame handed to the engine by a feeder.
type FrameInput struct {
	Ref       model.FrameRef
	Source    model.FrameSource
	Timestamp time.Time
}

type ServicesFactory struct {
	CfgSvc      config.IService
	DataSvc     data.IService
	RegistrySvc registry.IService
	EmitterSvc  emitter.IService
}

// Signature of feeder function
type Feeder func(canx context.Context, svcs ServicesFactory, camera model.Camera, errorStream chan interface{}, statsStream chan interface{}) chan FrameInput
