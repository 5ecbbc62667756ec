package model

import (
	"time"
)

// FrameSource indicates where a frame originated.
type FrameSource string

const (
	FrameSourceLive    FrameSource = "live-stream"
	FrameSourceFile    FrameSource = "file"
	FrameSourceRequest FrameSource = "single-request"
)

// FrameStage is the processing lifecycle of a frame. Transitions are strictly
// monotonic: pending -> processing -> completed|failed. A completed or failed
// record is immutable thereafter (except for derived stable state).
type FrameStage int

const (
	FrameStagePending FrameStage = iota
	FrameStageProcessing
	FrameStageCompleted
	FrameStageFailed
)

func (s FrameStage) String() string {
	switch s {
	case FrameStagePending:
		return "pending"
	case FrameStageProcessing:
		return "processing"
	case FrameStageCompleted:
		return "completed"
	case FrameStageFailed:
		return "failed"
	}
	return "unknown"
}

// Finalized reports whether no further detection results may be recorded.
func (s FrameStage) Finalized() bool {
	return s == FrameStageCompleted || s == FrameStageFailed
}

// StageKind identifies one detection stage of the frame stage graph.
type StageKind string

const (
	StageSubjects   StageKind = "subjects"
	StageAttributes StageKind = "attributes"
	StagePose       StageKind = "pose"
	StageBehavior   StageKind = "behavior"
)

// StageStatus is the per-stage outcome recorded on a frame.
type StageStatus string

const (
	StageStatusOK        StageStatus = "ok"
	StageStatusFailed    StageStatus = "failed"
	StageStatusTimeout   StageStatus = "timeout"
	StageStatusSkipped   StageStatus = "skipped"
	StageStatusCancelled StageStatus = "cancelled"
)

// BBox is a bounding box in pixel coordinates: [x1,y1,x2,y2].
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b BBox) Width() float64 {
	return b.X2 - b.X1
}

func (b BBox) Height() float64 {
	return b.Y2 - b.Y1
}

func (b BBox) Area() float64 {
	w := b.Width()
	h := b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is the common shape every adapter returns.
type Detection struct {
	BBox       BBox              `json:"bbox"`
	Confidence float64           `json:"confidence"`
	Class      string            `json:"class"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// SubjectDetection is one primary subject (a person) found in a frame.
type SubjectDetection struct {
	Detection
}

// AttributeDetection is a protective-gear or appearance attribute detected on
// one subject, referenced by index into the frame's subject list.
type AttributeDetection struct {
	Detection
	SubjectIndex int `json:"subjectIndex"`
}

type Keypoint struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// PoseDetection is a pose estimate for one subject.
type PoseDetection struct {
	Detection
	SubjectIndex int        `json:"subjectIndex"`
	Keypoints    []Keypoint `json:"keypoints,omitempty"`
}

// BehaviorDetection is a per-subject compliance classification. Class carries
// the raw classifier label; Signal and Value are the interpreted signal kind
// and compliance value attributed to the subject's track.
type BehaviorDetection struct {
	Detection
	SubjectIndex int             `json:"subjectIndex"`
	TrackID      string          `json:"trackId"`
	Signal       SignalKind      `json:"signal"`
	Value        ComplianceState `json:"value"`
}

// FrameRef is an opaque handle to the raw image. The engine never holds pixel
// buffers long-term; adapters that need pixels resolve Data themselves.
type FrameRef struct {
	Hash string `json:"hash"`
	Data []byte `json:"-"`
}

// FrameRecord is the canonical record of one camera frame's processing
// lifecycle. Records are copy-on-write: they are never mutated in place once
// published by the frame metadata manager, so a holder of any version may
// read it without locking.
type FrameRecord struct {
	FrameID   string      `json:"frameId"`
	CameraID  string      `json:"cameraId"`
	Seq       uint64      `json:"seq"` // per-camera monotonic counter
	Timestamp time.Time   `json:"timestamp"`
	Source    FrameSource `json:"source"`
	Ref       FrameRef    `json:"ref"`
	Version   int         `json:"version"`

	Subjects   []SubjectDetection   `json:"subjects,omitempty"`
	Attributes []AttributeDetection `json:"attributes,omitempty"`
	Poses      []PoseDetection      `json:"poses,omitempty"`
	Behaviors  []BehaviorDetection  `json:"behaviors,omitempty"`

	Stage       FrameStage                `json:"stage"`
	StageStatus map[StageKind]StageStatus `json:"stageStatus,omitempty"`
	StageDetail map[StageKind]string      `json:"stageDetail,omitempty"`
	Degraded    bool                      `json:"degraded"`

	StableState      ComplianceState `json:"stableState,omitempty"`
	StableConfidence float64         `json:"stableConfidence,omitempty"`
}

// Clone returns a deep copy suitable for copy-on-write updates. An
// empty-but-non-nil result slice stays non-nil: it records that a stage ran
// and found nothing, which is distinct from a slot never written.
func (r *FrameRecord) Clone() *FrameRecord {
	c := *r
	if r.Subjects != nil {
		c.Subjects = make([]SubjectDetection, len(r.Subjects))
		copy(c.Subjects, r.Subjects)
	}
	if r.Attributes != nil {
		c.Attributes = make([]AttributeDetection, len(r.Attributes))
		copy(c.Attributes, r.Attributes)
	}
	if r.Poses != nil {
		c.Poses = make([]PoseDetection, len(r.Poses))
		copy(c.Poses, r.Poses)
	}
	if r.Behaviors != nil {
		c.Behaviors = make([]BehaviorDetection, len(r.Behaviors))
		copy(c.Behaviors, r.Behaviors)
	}
	if r.StageStatus != nil {
		c.StageStatus = make(map[StageKind]StageStatus, len(r.StageStatus))
		for k, v := range r.StageStatus {
			c.StageStatus[k] = v
		}
	}
	if r.StageDetail != nil {
		c.StageDetail = make(map[StageKind]string, len(r.StageDetail))
		for k, v := range r.StageDetail {
			c.StageDetail[k] = v
		}
	}
	return &c
}
