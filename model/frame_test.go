package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsEmptyResultSlicesNonNil(t *testing.T) {
	rec := &FrameRecord{
		FrameID:    "cam-a_1_10",
		Subjects:   []SubjectDetection{},
		Attributes: []AttributeDetection{},
		Poses:      []PoseDetection{},
		Behaviors:  []BehaviorDetection{},
	}

	c := rec.Clone()

	// "Stage ran, recorded zero detections" must survive cloning; a nil slot
	// would read as never written.
	assert.NotNil(t, c.Subjects)
	assert.NotNil(t, c.Attributes)
	assert.NotNil(t, c.Poses)
	assert.NotNil(t, c.Behaviors)
	assert.Empty(t, c.Subjects)
}

func TestCloneIsDeep(t *testing.T) {
	rec := &FrameRecord{
		FrameID:  "cam-a_1_10",
		Subjects: []SubjectDetection{{Detection: Detection{Class: "person", Confidence: 0.9}}},
		StageStatus: map[StageKind]StageStatus{
			StageSubjects: StageStatusOK,
		},
		StageDetail: map[StageKind]string{},
	}

	c := rec.Clone()
	c.Subjects[0].Class = "forklift"
	c.StageStatus[StageAttributes] = StageStatusFailed
	c.StageDetail[StageAttributes] = "boom"

	require.Len(t, rec.Subjects, 1)
	assert.Equal(t, "person", rec.Subjects[0].Class)
	assert.NotContains(t, rec.StageStatus, StageAttributes)
	assert.Empty(t, rec.StageDetail)
}
