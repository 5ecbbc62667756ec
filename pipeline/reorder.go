package pipeline

import (
	"sync"

	"github.com/guardvision/gv-go/model"
)

// Reorder buffers out-of-order frame completions and releases them in frame
// sequence order, so downstream consumers observe a camera's completions in
// non-decreasing timestamp order even when workers pipeline frames.
//
// Every created frame must be completed exactly once (dropped and cancelled
// frames are finalized as failed and completed too), so the sequence has no
// gaps and the buffer always drains.
type Reorder struct {
	// relMu serializes the whole complete-then-release path so concurrent
	// completers cannot interleave their release batches. The index lock mu
	// stays separate; the release callback must never call Complete.
	relMu   sync.Mutex
	mu      sync.Mutex
	next    uint64
	pending map[uint64]*model.FrameRecord
	release func(*model.FrameRecord)
}

// NewReorder releases records through fn starting at sequence start.
func NewReorder(start uint64, fn func(*model.FrameRecord)) *Reorder {
	return &Reorder{
		next:    start,
		pending: map[uint64]*model.FrameRecord{},
		release: fn,
	}
}

// Complete registers a finalized record and releases every consecutive record
// now available. Releases are serialized: a completer holds the release lock
// until its whole batch is out, so a later completion can never overtake an
// in-flight earlier one.
func (r *Reorder) Complete(rec *model.FrameRecord) {
	r.relMu.Lock()
	defer r.relMu.Unlock()

	r.mu.Lock()
	r.pending[rec.Seq] = rec

	var due []*model.FrameRecord
	for {
		next, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		r.next++
		due = append(due, next)
	}
	r.mu.Unlock()

	for _, d := range due {
		r.release(d)
	}
}

// Pending reports how many completions are waiting on an earlier frame.
func (r *Reorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
