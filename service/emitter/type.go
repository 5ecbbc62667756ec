package emitter

import "github.com/guardvision/gv-go/model"

// IService receives finalized frame records and stable-state transitions.
// Frames for one camera arrive in non-decreasing timestamp order.
type IService interface {
	Emit(frame *model.FrameRecord) error
	EmitTransition(transition model.StateTransition) error
}
