package detector

import (
	"context"

	"github.com/guardvision/gv-go/model"
)

// Kind identifies the inference capability an adapter provides.
type Kind string

const (
	KindSubjects  Kind = "subjects"
	KindAttribute Kind = "attribute"
	KindPose      Kind = "pose"
	KindBehavior  Kind = "behavior"
)

// Request carries everything an adapter may need for one invocation. Subject,
// Poses and TrackID are populated only for the dependent stages.
type Request struct {
	CameraID     string
	FrameID      string
	Ref          model.FrameRef
	Subject      *model.SubjectDetection
	SubjectIndex int
	Poses        []model.PoseDetection
	TrackID      string
}

// IService wraps one pluggable inference capability. Implementations must be
// safe for concurrent invocation; the engine invokes adapters from multiple
// camera contexts without additional locking.
type IService interface {
	Name() string
	Kind() Kind
	Detect(ctx context.Context, req Request) ([]model.Detection, error)
}

// Adapters is the fixed set of stage adapters one engine runs with. A nil
// entry disables the stage.
type Adapters struct {
	Subjects   IService
	Attributes IService
	Pose       IService
	Behavior   IService
}
