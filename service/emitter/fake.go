package emitter

import (
	"sync"

	"github.com/guardvision/gv-go/model"
)

// Fake collects everything in memory. Tests inspect what was emitted, and in
// what order.
type Fake struct {
	mu          sync.Mutex
	frames      []*model.FrameRecord
	transitions []model.StateTransition
}

func NewFake() *Fake {
	return &Fake{}
}

func (svc *Fake) Emit(frame *model.FrameRecord) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.frames = append(svc.frames, frame)
	return nil
}

func (svc *Fake) EmitTransition(transition model.StateTransition) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.transitions = append(svc.transitions, transition)
	return nil
}

func (svc *Fake) Frames() []*model.FrameRecord {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]*model.FrameRecord, len(svc.frames))
	copy(out, svc.frames)
	return out
}

func (svc *Fake) Transitions() []model.StateTransition {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]model.StateTransition, len(svc.transitions))
	copy(out, svc.transitions)
	return out
}
