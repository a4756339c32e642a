package detections

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
)

// BenchmarkResult aggregates repeated inference timings.
type BenchmarkResult struct {
	Runs []time.Duration
	Mean time.Duration
	Min  time.Duration
	Max  time.Duration
	// FPS is derived throughput, 1/Mean.
	FPS float64
}

// Benchmark times Detect over the same input for the given number of
// iterations. A nil input uses a synthetic 1920x1080 white image.
func (d *Detector) Benchmark(ctx context.Context, input image.Image, iterations int, opts DetectOptions) (*BenchmarkResult, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if iterations <= 0 {
		iterations = 10
	}
	if input == nil {
		input = imaging.New(1920, 1080, color.White)
	}

	runs := make([]time.Duration, 0, iterations)
	for i := 0; i < iterations; i++ {
		start := time.Now()
		if _, err := d.Detect(ctx, input, opts); err != nil {
			return nil, err
		}
		runs = append(runs, time.Since(start))
	}

	return summarize(runs), nil
}

func summarize(runs []time.Duration) *BenchmarkResult {
	if len(runs) == 0 {
		return &BenchmarkResult{}
	}

	var total time.Duration
	min, max := runs[0], runs[0]
	for _, r := range runs {
		total += r
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}

	mean := total / time.Duration(len(runs))
	fps := 0.0
	if mean > 0 {
		fps = float64(time.Second) / float64(mean)
	}

	return &BenchmarkResult{
		Runs: runs,
		Mean: mean,
		Min:  min,
		Max:  max,
		FPS:  fps,
	}
}
