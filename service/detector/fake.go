package detector

import (
	"context"
	"sync/atomic"

	"github.com/guardvision/gv-go/model"
)

type fakeService struct {
	name       string
	kind       Kind
	detections []model.Detection
	calls      atomic.Int64
}

// NewFake returns an adapter that answers every request with the same canned
// detections.
func NewFake(name string, kind Kind, detections []model.Detection) IService {
	return &fakeService{
		name:       name,
		kind:       kind,
		detections: detections,
	}
}

func (svc *fakeService) Name() string {
	return svc.name
}

func (svc *fakeService) Kind() Kind {
	return svc.kind
}

func (svc *fakeService) Detect(_ context.Context, _ Request) ([]model.Detection, error) {
	svc.calls.Add(1)
	out := make([]model.Detection, len(svc.detections))
	copy(out, svc.detections)
	return out, nil
}

type funcService struct {
	name  string
	kind  Kind
	fn    func(ctx context.Context, req Request) ([]model.Detection, error)
	calls atomic.Int64
}

// NewFunc wraps an arbitrary function as an adapter. Tests use it to script
// per-frame responses, failures and blocking behavior.
func NewFunc(name string, kind Kind, fn func(ctx context.Context, req Request) ([]model.Detection, error)) IService {
	return &funcService{
		name: name,
		kind: kind,
		fn:   fn,
	}
}

func (svc *funcService) Name() string {
	return svc.name
}

func (svc *funcService) Kind() Kind {
	return svc.kind
}

func (svc *funcService) Detect(ctx context.Context, req Request) ([]model.Detection, error) {
	svc.calls.Add(1)
	return svc.fn(ctx, req)
}

// Calls reports how many times an adapter built by this package was invoked.
func Calls(svc IService) int64 {
	switch s := svc.(type) {
	case *fakeService:
		return s.calls.Load()
	case *funcService:
		return s.calls.Load()
	}
	return -1
}
