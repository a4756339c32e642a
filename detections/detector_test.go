package detections

import (
	"context"
	"errors"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubbedDetector is Ready without a model; inference returns the given raw
// output or error.
func stubbedDetector(output []float32, inferErr error) *Detector {
	d := &Detector{
		state:   StateReady,
		classes: PCBDefectClasses,
		logger:  zap.NewNop().Sugar(),
	}
	d.infer = func(context.Context, image.Image) ([]float32, error) {
		if inferErr != nil {
			return nil, inferErr
		}
		return output, nil
	}
	return d
}

func TestNewDetector_MissingModel(t *testing.T) {
	_, err := NewDetector(Config{
		ModelPath: filepath.Join(t.TempDir(), "missing.onnx"),
	}, nil)
	require.Error(t, err)

	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestDetectOptions_Defaults(t *testing.T) {
	var opts DetectOptions
	opts.applyDefaults()
	require.Equal(t, float32(DefaultConfThreshold), opts.ConfThreshold)
	require.Equal(t, float32(DefaultIoUThreshold), opts.IoUThreshold)
	require.Equal(t, DefaultMaxSize, opts.MaxSize)
}

func TestDetectOptions_KeepsExplicitValues(t *testing.T) {
	opts := DetectOptions{ConfThreshold: 0.5, IoUThreshold: 0.6, MaxSize: 640}
	opts.applyDefaults()
	require.Equal(t, float32(0.5), opts.ConfThreshold)
	require.Equal(t, float32(0.6), opts.IoUThreshold)
	require.Equal(t, 640, opts.MaxSize)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "uninitialized", StateUninitialized.String())
	require.Equal(t, "loading", StateLoading.String())
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "failed", StateFailed.String())
}

func TestDetect_NoDetectionsReturnsPreprocessedImage(t *testing.T) {
	d := stubbedDetector(rawPredictions(), nil)
	input := testImage(800, 600)

	expected, err := Preprocess(input, DefaultMaxSize)
	require.NoError(t, err)

	result, err := d.Detect(context.Background(), input, DetectOptions{})
	require.NoError(t, err)
	require.Zero(t, result.Count)
	require.Empty(t, result.Detections)
	require.Equal(t, expected.Bounds(), result.Image.Bounds())
	require.Equal(t, expected.Pix, result.Image.Pix)
	require.NotEmpty(t, result.JPEG)
}

func TestDetect_InferenceFailure(t *testing.T) {
	d := stubbedDetector(nil, errors.New("session run failed"))

	_, err := d.Detect(context.Background(), testImage(640, 640), DetectOptions{})
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
}

func TestDetectBatch_BadPathYieldsNilEntry(t *testing.T) {
	d := stubbedDetector(rawPredictions(), nil)

	inputDir := t.TempDir()
	outputDir := filepath.Join(t.TempDir(), "results")
	first := filepath.Join(inputDir, "board_a.png")
	third := filepath.Join(inputDir, "board_b.png")
	require.NoError(t, imaging.Save(testImage(320, 240), first))
	require.NoError(t, imaging.Save(testImage(320, 240), third))

	paths := []string{first, filepath.Join(inputDir, "missing.png"), third}
	results, err := d.DetectBatch(context.Background(), paths, outputDir, 4)
	require.NoError(t, err)
	require.Len(t, results, len(paths))

	require.Nil(t, results[1])
	require.NotNil(t, results[0])
	require.NotNil(t, results[2])
	require.Zero(t, results[0].Count)

	_, err = os.Stat(filepath.Join(outputDir, "detected_board_a.jpg"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outputDir, "detected_board_b.jpg"))
	require.NoError(t, err)
}

func TestSummarize(t *testing.T) {
	runs := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	result := summarize(runs)
	require.Equal(t, 20*time.Millisecond, result.Mean)
	require.Equal(t, 10*time.Millisecond, result.Min)
	require.Equal(t, 30*time.Millisecond, result.Max)
	require.InDelta(t, 50.0, result.FPS, 1e-6)
}

func TestSummarize_Empty(t *testing.T) {
	result := summarize(nil)
	require.Zero(t, result.Mean)
	require.Zero(t, result.FPS)
}
