package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"gocv.io/x/gocv"

	"github.com/guardvision/gv-go/model"
	"github.com/guardvision/gv-go/service/config"
)

var y5RowLogger = &lumberjack.Logger{
	Filename:   "rows.log",
	MaxSize:    1000, // MB
	MaxBackups: 5,
	MaxAge:     7,    // days
	Compress:   true, // compress old logs
}

var y5AllowedClasses = map[string]bool{
	"person": true,
	// Add more as needed
}

type yolo5Service struct {
	cfgSvc config.IService
	labels []string

	// WARNING: a gocv net is not thread-safe, so invocations serialize here.
	mu  sync.Mutex
	net gocv.Net
}

// NewYolo5 wraps a YOLOv5 ONNX model as the primary-subject adapter. The
// request ref must carry the encoded image bytes.
func NewYolo5(cfgSvc config.IService) (IService, error) {
	params := cfgSvc.GetDetectorParameters(config.Yolo5DetectorName)
	if _, err := os.Stat(params.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no yolo5 model exists at %s", params.ModelPath)
	}

	labels, err := loadLabels(params.CocoNamesPath)
	if err != nil {
		return nil, fmt.Errorf("error loading coco names: %w", err)
	}

	net := gocv.ReadNet(params.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("error reading yolo5 model from %s", params.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		return nil, fmt.Errorf("error setting backend: %w", err)
	}

	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		return nil, fmt.Errorf("error setting target: %w", err)
	}

	return &yolo5Service{
		cfgSvc: cfgSvc,
		labels: labels,
		net:    net,
	}, nil
}

func (svc *yolo5Service) Name() string {
	return config.Yolo5DetectorName
}

func (svc *yolo5Service) Kind() Kind {
	return KindSubjects
}

func (svc *yolo5Service) Detect(ctx context.Context, req Request) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(req.Ref.Data) == 0 {
		return nil, fmt.Errorf("frame %s carries no image data", req.FrameID)
	}

	img, err := gocv.IMDecode(req.Ref.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("error decoding frame %s: %w", req.FrameID, err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("frame %s decoded to an empty image", req.FrameID)
	}

	params := svc.cfgSvc.GetDetectorParameters(config.Yolo5DetectorName)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(640, 640), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	svc.net.SetInput(blob, "")

	output := svc.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected DNN output dims: %v", dims)
	}

	reshaped := output.Reshape(1, dims[1])
	if reshaped.Empty() || reshaped.Rows() == 0 || reshaped.Cols() < 5 {
		reshaped.Close()
		return nil, fmt.Errorf("reshape failed or invalid dimensions")
	}
	defer reshaped.Close()

	var detections []model.Detection
	for i := 0; i < reshaped.Rows(); i++ {
		row := reshaped.RowRange(i, i+1)
		data, okErr := row.DataPtrFloat32()
		row.Close()

		if okErr != nil || data == nil || len(data) < 5 {
			continue
		}

		if data[4] < params.ObjectConfidenceThreshold {
			continue
		}

		dets := extractDetections(i, req.CameraID, img, svc.labels, data, params)
		detections = append(detections, dets...)
	}

	return detections, nil
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n"), nil
}

func extractDetections(idx int, camera string, frame gocv.Mat, labels []string, data []float32, params config.DetectorParameters) []model.Detection {
	detections := []model.Detection{}

	objectConfidence := data[4] // objectness
	classScores := data[5:]

	if len(classScores) != len(labels) {
		return detections
	}

	classID := -1
	classConfidence := float32(0.0)
	for j, score := range classScores {
		label := strings.ToLower(labels[j])
		if !y5AllowedClasses[label] {
			continue
		}
		if score > classConfidence {
			classConfidence = score
			classID = j
		}
	}

	finalConf := objectConfidence * classConfidence

	// Ignore if the class is not important to us or the object and class confidences are low
	if classID == -1 ||
		objectConfidence < params.ObjectConfidenceThreshold ||
		finalConf < params.ConfidenceThreshold {
		return detections
	}

	if params.Logging {
		logRows(camera, "post", fmt.Sprintf("Row %d confidence: %f, class max score: %f (%s), finalConf: %f, class ID: %d\n", idx, objectConfidence, classConfidence, labels[classID], finalConf, classID))
	}

	cx := data[0] * float32(frame.Cols())
	cy := data[1] * float32(frame.Rows())
	w := data[2] * float32(frame.Cols())
	h := data[3] * float32(frame.Rows())
	x := float64(cx - w/2)
	y := float64(cy - h/2)

	detections = append(detections, model.Detection{
		BBox: model.BBox{
			X1: x,
			Y1: y,
			X2: x + float64(w),
			Y2: y + float64(h),
		},
		Confidence: float64(finalConf),
		Class:      labels[classID],
	})

	return detections
}

func logRows(camera, direction, message string) {
	entry := map[string]interface{}{
		"time":      time.Now().Format(time.RFC3339),
		"camera":    camera,
		"direction": direction,
		"message":   message,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Println("Error marshaling rows:", err)
		return
	}

	if _, err := y5RowLogger.Write(append(jsonData, '\n')); err != nil {
		fmt.Println("Error writing to row log file:", err)
	}
}
