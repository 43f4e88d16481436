package detect

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

// ortInit guards the process-wide ONNX Runtime environment.
var ortInit sync.Once
var ortInitErr error

func initOnnxRuntime() error {
	ortInit.Do(func() {
		if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// detection is one decoded face candidate in pixel coordinates.
type detection struct {
	bbox       [4]float32 // x1, y1, x2, y2
	confidence float32
}

// stride configuration for the RetinaFace det_10g head.
var onnxStrides = []int{8, 16, 32}

const onnxAnchorsPerStride = 2

// ONNXDetector runs a fixed-input-size RetinaFace model through ONNX
// Runtime. It yields a face rectangle and its center; the model's eye
// keypoints are too coarse at portrait distances so no eye landmarks are
// reported.
type ONNXDetector struct {
	modelPath     string
	threshold     float32
	inputW        int
	inputH        int
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	initialized   bool
}

// NewONNXDetector creates a detector for the given model file. threshold is
// the minimum box confidence.
func NewONNXDetector(modelPath string, threshold float32) *ONNXDetector {
	return &ONNXDetector{
		modelPath: modelPath,
		threshold: threshold,
		inputW:    640,
		inputH:    640,
	}
}

func (d *ONNXDetector) Model() string {
	return "onnx-retinaface"
}

// Local reports true; the session holds the model in process memory.
func (d *ONNXDetector) Local() bool {
	return true
}

func (d *ONNXDetector) Available() bool {
	if d.initialized {
		return true
	}
	_, err := os.Stat(d.modelPath)
	return err == nil
}

func (d *ONNXDetector) Init() error {
	if d.initialized {
		return nil
	}
	if err := initOnnxRuntime(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	inputShape := ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g output shapes (no batch dimension):
	// scores [N,1], bboxes [N,4], landmarks [N,10] per stride 8/16/32.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(d.modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return fmt.Errorf("create detector session: %w", err)
	}

	d.session = session
	d.inputTensor = inputTensor
	d.outputTensors = outputTensors
	d.initialized = true
	return nil
}

// Release destroys the session and tensors, freeing the model memory.
func (d *ONNXDetector) Release(ctx context.Context) error {
	if !d.initialized {
		return nil
	}
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
		d.inputTensor = nil
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
	d.outputTensors = nil
	d.initialized = false
	return nil
}

func (d *ONNXDetector) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	start := time.Now()
	notDetected := func(reason string) Landmarks {
		return Landmarks{Model: d.Model(), Elapsed: time.Since(start), Reason: reason}
	}

	if !d.initialized {
		return notDetected("detector not initialized"), nil
	}
	if err := ctx.Err(); err != nil {
		return Landmarks{}, err
	}

	img, err := loadImage(imagePath)
	if err != nil {
		return notDetected(err.Error()), nil
	}
	origW := img.Bounds().Dx()
	origH := img.Bounds().Dy()

	copy(d.inputTensor.GetData(), preprocessCHW(img, d.inputW, d.inputH))

	if err := d.session.Run(); err != nil {
		return notDetected(fmt.Sprintf("inference failed: %v", err)), nil
	}

	detections := nonMaxSuppression(d.parseDetections(origW, origH), 0.4)
	if len(detections) == 0 {
		return notDetected("no face above threshold"), nil
	}

	// Single highest-confidence box wins.
	best := detections[0]
	for _, det := range detections[1:] {
		if det.confidence > best.confidence {
			best = det
		}
	}

	face := image.Rect(int(best.bbox[0]), int(best.bbox[1]), int(best.bbox[2]), int(best.bbox[3]))
	center := image.Pt((face.Min.X+face.Max.X)/2, (face.Min.Y+face.Max.Y)/2)

	return Landmarks{
		FaceDetected: true,
		Face:         &face,
		Center:       &center,
		Confidence:   float64(best.confidence),
		Model:        d.Model(),
		Elapsed:      time.Since(start),
	}, nil
}

// parseDetections decodes anchor-based RetinaFace outputs at strides 8/16/32.
func (d *ONNXDetector) parseDetections(origW, origH int) []detection {
	var detections []detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range onnxStrides {
		scores := d.outputTensors[si].GetData()   // [N, 1]
		bboxes := d.outputTensors[si+3].GetData() // [N, 4]

		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < onnxAnchorsPerStride; a++ {
					score := scores[idx]
					if score >= d.threshold {
						anchorX := float32(cx) * float32(stride)
						anchorY := float32(cy) * float32(stride)

						// Box offsets are normalized distances from the anchor.
						st := float32(stride)
						x1 := (anchorX - bboxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - bboxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + bboxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + bboxes[idx*4+3]*st) * scaleH

						detections = append(detections, detection{
							bbox: [4]float32{
								clampF(x1, 0, float32(origW)),
								clampF(y1, 0, float32(origH)),
								clampF(x2, 0, float32(origW)),
								clampF(y2, 0, float32(origH)),
							},
							confidence: score,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

// preprocessCHW resizes an image to w x h and converts it to normalized
// CHW float32 data as the model expects.
func preprocessCHW(img image.Image, w, h int) []float32 {
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	data := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := resized.PixOffset(x, y)
			// (v - 127.5) / 128, RGB plane order.
			data[y*w+x] = (float32(resized.Pix[i]) - 127.5) / 128
			data[plane+y*w+x] = (float32(resized.Pix[i+1]) - 127.5) / 128
			data[2*plane+y*w+x] = (float32(resized.Pix[i+2]) - 127.5) / 128
		}
	}
	return data
}

// nonMaxSuppression discards boxes overlapping a higher-confidence box.
func nonMaxSuppression(detections []detection, iouThreshold float32) []detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].confidence > detections[j].confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if boxIoU(detections[i].bbox, detections[j].bbox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []detection
	for i, det := range detections {
		if keep[i] {
			result = append(result, det)
		}
	}
	return result
}

func boxIoU(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
