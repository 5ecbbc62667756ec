package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/emitter"
)

func TestReorderReleasesInSequenceOrder(t *testing.T) {
	var released []uint64
	r := NewReorder(1, func(rec *model.FrameRecord) {
		released = append(released, rec.Seq)
	})

	// Workers finish out of order; releases stay sequential.
	r.Complete(&model.FrameRecord{Seq: 2})
	r.Complete(&model.FrameRecord{Seq: 3})
	assert.Empty(t, released)
	assert.Equal(t, 2, r.Pending())

	r.Complete(&model.FrameRecord{Seq: 1})
	require.Equal(t, []uint64{1, 2, 3}, released)
	assert.Equal(t, 0, r.Pending())

	r.Complete(&model.FrameRecord{Seq: 4})
	assert.Equal(t, []uint64{1, 2, 3, 4}, released)
}

func TestReorderConcurrentCompletersNeverOvertake(t *testing.T) {
	var mu sync.Mutex
	var released []uint64

	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})

	// The release of Seq 1 stalls inside the callback, as a slow emitter
	// write would, while another worker completes Seq 2.
	r := NewReorder(1, func(rec *model.FrameRecord) {
		if rec.Seq == 1 {
			close(firstEntered)
			<-releaseFirst
		}
		mu.Lock()
		released = append(released, rec.Seq)
		mu.Unlock()
	})

	firstDone := make(chan struct{})
	go func() {
		r.Complete(&model.FrameRecord{Seq: 1})
		close(firstDone)
	}()
	<-firstEntered

	secondDone := make(chan struct{})
	go func() {
		r.Complete(&model.FrameRecord{Seq: 2})
		close(secondDone)
	}()

	// The second completion must wait for the in-flight release batch.
	select {
	case <-secondDone:
		t.Fatal("second completion released while the first was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(releaseFirst)
	<-firstDone
	<-secondDone

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, released)
}

func TestReorderFeedsEmitterInSequenceOrder(t *testing.T) {
	sink := emitter.NewFake()
	r := NewReorder(1, func(rec *model.FrameRecord) {
		require.NoError(t, sink.Emit(rec))
	})

	r.Complete(&model.FrameRecord{Seq: 3, FrameID: "cam-a_3_30"})
	r.Complete(&model.FrameRecord{Seq: 1, FrameID: "cam-a_1_10"})
	r.Complete(&model.FrameRecord{Seq: 2, FrameID: "cam-a_2_20"})

	emitted := sink.Frames()
	require.Len(t, emitted, 3)
	for i, want := range []string{"cam-a_1_10", "cam-a_2_20", "cam-a_3_30"} {
		assert.Equal(t, want, emitted[i].FrameID)
	}
}

func TestReorderFailedFramesStillRelease(t *testing.T) {
	var released []uint64
	r := NewReorder(1, func(rec *model.FrameRecord) {
		released = append(released, rec.Seq)
	})

	// A dropped frame is finalized as failed and completed like any other, so
	// the sequence never stalls.
	r.Complete(&model.FrameRecord{Seq: 1, Stage: model.FrameStageCompleted})
	r.Complete(&model.FrameRecord{Seq: 3, Stage: model.FrameStageCompleted})
	r.Complete(&model.FrameRecord{Seq: 2, Stage: model.FrameStageFailed})

	assert.Equal(t, []uint64{1, 2, 3}, released)
	assert.Equal(t, 0, r.Pending())
}
