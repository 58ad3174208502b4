package vision

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/your-org/lanewatch/internal/tracking"
	"github.com/your-org/lanewatch/internal/vision/yolo"
)

// Detector runs YOLOv8 vehicle detection using ONNX Runtime.
type Detector struct {
	mu           sync.Mutex // session and tensors are shared by all workers
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	params       yolo.Params
}

// NewDetector loads a YOLOv8 ONNX model exported with the default "images"
// input and "output0" output. Only classes listed in classes are reported.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold, nmsThreshold float64, classes []int, opts *ort.SessionOptions) (*Detector, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, yolo.InputSize, yolo.InputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// [batch, 4 box coords + class scores, anchors]
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 4+yolo.NumClasses, yolo.Anchors))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		params:       yolo.NewParams(threshold, nmsThreshold, classes),
	}, nil
}

// Detect finds vehicles in a BGR frame. Boxes are in frame pixel coordinates.
func (d *Detector) Detect(frame gocv.Mat) ([]tracking.Detection, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(yolo.InputSize, yolo.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), data)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return yolo.Decode(d.outputTensor.GetData(), yolo.Anchors,
		yolo.Frame{Width: frame.Cols(), Height: frame.Rows()}, d.params), nil
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}
