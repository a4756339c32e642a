package detections

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/circuitsight/pcb-inspection-service/models"
)

// State tracks the detector lifecycle. There is no way back to Ready once
// loading failed; callers must build a fresh instance.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the detector construction parameters.
type Config struct {
	// ModelPath points at the exported ONNX detector.
	ModelPath string
	// LibraryPath points at the ONNX Runtime shared library. Empty means the
	// runtime default lookup.
	LibraryPath string
	// Device selects a CUDA GPU by ordinal, e.g. "0". Empty or "cpu" stays on
	// the CPU provider.
	Device string
	// PoolSize is clamped to [1, MaxAcceleratorSessions].
	PoolSize int
	// Classes defaults to PCBDefectClasses.
	Classes []string
}

// DetectOptions tunes a single Detect call. Zero values fall back to the
// package defaults.
type DetectOptions struct {
	ConfThreshold float32
	IoUThreshold  float32
	MaxSize       int
	// SavePath, when set, persists the annotated result as a quality-90 JPEG.
	SavePath   string
	HideLabels bool
	HideConf   bool
}

func (o *DetectOptions) applyDefaults() {
	if o.ConfThreshold <= 0 {
		o.ConfThreshold = DefaultConfThreshold
	}
	if o.IoUThreshold <= 0 {
		o.IoUThreshold = DefaultIoUThreshold
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
}

// Result is the outcome of one detection run.
type Result struct {
	// Image is the annotated image, or the preprocessed original when nothing
	// was detected.
	Image *image.NRGBA
	// JPEG is Image encoded at quality 90.
	JPEG       []byte
	Count      int
	Detections []models.Detection
	Timings    models.ProcessingTimings
}

// Detector wraps the pretrained PCB defect model. One instance is created per
// process and reused for every request.
type Detector struct {
	mu      sync.RWMutex
	state   State
	loadErr error

	pool    *SessionPool
	classes []string
	logger  *zap.SugaredLogger

	// infer runs the model on an InputSize-square image and returns the raw
	// output buffer. Defaults to the pooled session run.
	infer func(ctx context.Context, pic image.Image) ([]float32, error)
}

// NewDetector loads the model, builds the session pool, and warms every
// session up with a dummy inference. The returned detector is Ready, or the
// error is a *ModelLoadError and the detector is unusable.
func NewDetector(cfg Config, logger *zap.SugaredLogger) (*Detector, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	classes := cfg.Classes
	if len(classes) == 0 {
		classes = PCBDefectClasses
	}

	d := &Detector{
		state:   StateLoading,
		classes: classes,
		logger:  logger,
	}
	d.infer = d.pooledInfer

	fail := func(err error) (*Detector, error) {
		loadErr := &ModelLoadError{Path: cfg.ModelPath, Err: err}
		d.mu.Lock()
		d.state = StateFailed
		d.loadErr = loadErr
		d.mu.Unlock()
		return nil, loadErr
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return fail(err)
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return fail(err)
	}

	logger.Infow("loading detector", "model", cfg.ModelPath, "device", cfg.Device, "classes", len(classes))
	pool, err := newSessionPool(cfg.ModelPath, len(classes), cfg.PoolSize, cfg.Device)
	if err != nil {
		return fail(err)
	}

	if err := pool.warmUp(); err != nil {
		pool.Destroy()
		return fail(err)
	}

	d.mu.Lock()
	d.pool = pool
	d.state = StateReady
	d.mu.Unlock()

	logger.Infow("detector ready", "sessions", pool.size)
	return d, nil
}

// State reports the current lifecycle state.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Metrics reports session pool counters.
func (d *Detector) Metrics() PoolMetricsSnapshot {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()
	if pool == nil {
		return PoolMetricsSnapshot{}
	}
	return pool.Metrics()
}

func (d *Detector) ready() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.state != StateReady {
		if d.loadErr != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, d.loadErr)
		}
		return ErrNotReady
	}
	return nil
}

// pooledInfer borrows a session, fills its input tensor, runs the model, and
// copies the output out before the session goes back to the pool.
func (d *Detector) pooledInfer(ctx context.Context, pic image.Image) ([]float32, error) {
	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	prepareInput(pic, session.Input)
	runErr := session.Session.Run()
	output := make([]float32, len(session.Output.GetData()))
	copy(output, session.Output.GetData())
	d.pool.Release(session)
	if runErr != nil {
		return nil, runErr
	}
	return output, nil
}

// Detect runs the full pipeline on one input: preprocess, fixed-resolution
// inference, confidence and IoU filtering, box overlay, optional JPEG save.
// Per-stage timings are logged on every call. Input errors come back as-is;
// model failures come back as *InferenceError.
func (d *Detector) Detect(ctx context.Context, input interface{}, opts DetectOptions) (*Result, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	timings := models.ProcessingTimings{RequestID: uuid.NewString()}
	totalStart := time.Now()

	preStart := time.Now()
	preprocessed, err := Preprocess(input, opts.MaxSize)
	if err != nil {
		return nil, err
	}
	timings.Preprocess = time.Since(preStart)

	inferStart := time.Now()
	resized := imaging.Resize(preprocessed, InputSize, InputSize, imaging.Linear)
	output, err := d.infer(ctx, resized)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	bounds := preprocessed.Bounds()
	detections, err := decodePredictions(output, bounds.Dx(), bounds.Dy(), d.classes, opts.ConfThreshold, opts.IoUThreshold)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	// Nothing detected: hand back the preprocessed image untouched.
	annotated := preprocessed
	if len(detections) > 0 {
		annotated = Annotate(preprocessed, detections, d.classes, !opts.HideLabels, !opts.HideConf)
	}

	jpegBytes, err := encodeJPEG(annotated)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	timings.Postprocess = time.Since(postStart)

	saveStart := time.Now()
	if opts.SavePath != "" {
		if err := imaging.Save(annotated, opts.SavePath, imaging.JPEGQuality(jpegQuality)); err != nil {
			return nil, fmt.Errorf("save result: %w", err)
		}
	}
	timings.Save = time.Since(saveStart)
	timings.Total = time.Since(totalStart)

	d.logger.Infow("detection complete",
		"request_id", timings.RequestID,
		"objects", len(detections),
		"preprocess", timings.Preprocess,
		"inference", timings.Inference,
		"postprocess", timings.Postprocess,
		"save", timings.Save,
		"total", timings.Total,
	)

	return &Result{
		Image:      annotated,
		JPEG:       jpegBytes,
		Count:      len(detections),
		Detections: detections,
		Timings:    timings,
	}, nil
}

// DetectBatch runs Detect over every path, saving each annotated result to
// outputDir/detected_<basename>.jpg. Worker count is capped at
// MaxAcceleratorSessions no matter what was asked for. A failed image yields a
// nil entry at its position; the rest of the batch continues.
func (d *Detector) DetectBatch(ctx context.Context, paths []string, outputDir string, maxWorkers int) ([]*Result, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	workers := maxWorkers
	if workers <= 0 || workers > MaxAcceleratorSessions {
		workers = MaxAcceleratorSessions
	}

	results := make([]*Result, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				path := paths[i]
				savePath := filepath.Join(outputDir, batchOutputName(path))
				res, err := d.Detect(ctx, path, DetectOptions{SavePath: savePath})
				if err != nil {
					d.logger.Warnw("batch item failed", "path", path, "error", err)
					continue
				}
				results[i] = res
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results, nil
}

func batchOutputName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return "detected_" + base + ".jpg"
}

// Close releases the pooled sessions.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Destroy()
		d.pool = nil
	}
}
