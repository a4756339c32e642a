// pcb-bench measures detector latency over repeated inferences on a fixed
// image and prints per-run and aggregate statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"

	"go.uber.org/zap"

	"github.com/circuitsight/pcb-inspection-service/detections"
)

func main() {
	modelPath := flag.String("model", "models/yolov12_pcb_640.onnx", "path to the ONNX detector")
	libPath := flag.String("lib", detections.DefaultLibraryPath(), "path to the ONNX Runtime shared library")
	device := flag.String("device", "", "CUDA device ordinal; empty for CPU")
	imagePath := flag.String("image", "", "test image; a synthetic 1920x1080 white image when empty")
	iterations := flag.Int("n", 10, "number of timed inferences")
	conf := flag.Float64("conf", detections.DefaultConfThreshold, "confidence threshold")
	iou := flag.Float64("iou", detections.DefaultIoUThreshold, "NMS IoU threshold")
	flag.Parse()

	logger := zap.Must(zap.NewDevelopment()).Sugar()
	defer logger.Sync()

	detector, err := detections.NewDetector(detections.Config{
		ModelPath:   *modelPath,
		LibraryPath: *libPath,
		Device:      *device,
		PoolSize:    1,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize detector: %v\n", err)
		os.Exit(1)
	}
	defer detector.Close()

	var input image.Image
	if *imagePath != "" {
		input, err = detections.Preprocess(*imagePath, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load test image: %v\n", err)
			os.Exit(1)
		}
	}

	result, err := detector.Benchmark(context.Background(), input, *iterations, detections.DetectOptions{
		ConfThreshold: float32(*conf),
		IoUThreshold:  float32(*iou),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: %v\n", err)
		os.Exit(1)
	}

	for i, run := range result.Runs {
		fmt.Printf("run %d: %v\n", i+1, run)
	}
	fmt.Println()
	fmt.Printf("mean: %v\n", result.Mean)
	fmt.Printf("min:  %v\n", result.Min)
	fmt.Printf("max:  %v\n", result.Max)
	fmt.Printf("fps:  %.1f\n", result.FPS)
}
