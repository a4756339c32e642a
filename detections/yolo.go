package detections

import (
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/circuitsight/pcb-inspection-service/models"
)

const numPredictions = 8400

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]float32, InputSize*InputSize*3)
	},
}

// ModelSession bundles an ONNX session with its fixed input and output tensors.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func newModelSession(modelPath string, numClasses int, device string) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	// A non-empty device selects a CUDA GPU by ordinal; empty runs on CPU.
	if device != "" && device != "cpu" {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("create cuda options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{"device_id": device}); err != nil {
			return nil, fmt.Errorf("select cuda device %s: %w", device, err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("enable cuda provider: %w", err)
		}
	}

	inputShape := ort.NewShape(1, 3, InputSize, InputSize)
	outputShape := ort.NewShape(1, int64(4+numClasses), numPredictions)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

// warmUp runs one inference on a zeroed input so the first real request does
// not pay the lazy-initialization cost.
func (m *ModelSession) warmUp() error {
	data := m.Input.GetData()
	for i := range data {
		data[i] = 0
	}
	return m.Session.Run()
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// prepareInput fills the session input tensor with the image in NCHW layout,
// channels normalized to [0,1]. The image must already be InputSize square.
func prepareInput(pic image.Image, dst *ort.Tensor[float32]) {
	data := dst.GetData()
	channelSize := InputSize * InputSize

	buffer := bufferPool.Get().([]float32)
	defer bufferPool.Put(buffer)

	numWorkers := runtime.NumCPU()
	rowsPerWorker := InputSize / numWorkers
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if w == numWorkers-1 {
			endY = InputSize
		}

		go func(startY, endY int) {
			defer wg.Done()
			for y := startY; y < endY; y++ {
				offset := y * InputSize
				for x := 0; x < InputSize; x++ {
					i := offset + x
					r, g, b, _ := pic.At(x, y).RGBA()
					buffer[i] = float32(r>>8) / 255.0
					buffer[channelSize+i] = float32(g>>8) / 255.0
					buffer[channelSize*2+i] = float32(b>>8) / 255.0
				}
			}
		}(startY, endY)
	}

	wg.Wait()
	copy(data, buffer)
}

// decodePredictions converts the raw [1, 4+C, 8400] output into detections in
// pixel coordinates of a targetWidth x targetHeight image, filtered by
// confidence and deduplicated with non-maximum suppression.
func decodePredictions(predictions []float32, targetWidth, targetHeight int, classes []string, confThreshold, iouThreshold float32) ([]models.Detection, error) {
	numClasses := len(classes)
	expected := (4 + numClasses) * numPredictions
	if len(predictions) != expected {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expected)
	}

	candidates := make([]models.Detection, 0, 100)
	for i := 0; i < numPredictions; i++ {
		// Best class score is the detection confidence.
		classID, conf := 0, float32(0)
		for c := 0; c < numClasses; c++ {
			if score := predictions[(4+c)*numPredictions+i]; score > conf {
				conf = score
				classID = c
			}
		}
		if conf < confThreshold {
			continue
		}

		cx := predictions[i]
		cy := predictions[numPredictions+i]
		w := predictions[2*numPredictions+i]
		h := predictions[3*numPredictions+i]

		candidates = append(candidates, models.Detection{
			BBox:       scaleBBox(cx, cy, w, h, float32(targetWidth), float32(targetHeight)),
			Label:      classes[classID],
			Confidence: conf,
		})
	}

	sortDetectionsByConfidence(candidates)
	return suppressOverlaps(candidates, iouThreshold), nil
}

// scaleBBox maps a center-format box in InputSize pixels to corner format in
// target-image pixels, clamped to the image.
func scaleBBox(cx, cy, w, h, targetW, targetH float32) [4]int32 {
	x1 := (cx - w/2) / InputSize * targetW
	y1 := (cy - h/2) / InputSize * targetH
	x2 := (cx + w/2) / InputSize * targetW
	y2 := (cy + h/2) / InputSize * targetH

	return [4]int32{
		int32(maxF32(0, x1)),
		int32(maxF32(0, y1)),
		int32(minF32(targetW, x2)),
		int32(minF32(targetH, y2)),
	}
}

// suppressOverlaps is greedy NMS over confidence-sorted detections.
func suppressOverlaps(sorted []models.Detection, iouThreshold float32) []models.Detection {
	kept := make([]models.Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))

	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if boxIoU(sorted[i].BBox, sorted[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// boxIoU computes intersection over union of two corner-format boxes.
func boxIoU(a, b [4]int32) float32 {
	x1 := maxF32(float32(a[0]), float32(b[0]))
	y1 := maxF32(float32(a[1]), float32(b[1]))
	x2 := minF32(float32(a[2]), float32(b[2]))
	y2 := minF32(float32(a[3]), float32(b[3]))

	intersection := maxF32(0, x2-x1) * maxF32(0, y2-y1)
	areaA := float32(a[2]-a[0]) * float32(a[3]-a[1])
	areaB := float32(b[2]-b[0]) * float32(b[3]-b[1])

	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}

func minF32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxF32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
