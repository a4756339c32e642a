// pcb-detect runs the defect detector over one or more images from the
// command line and writes annotated copies next to a results directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/circuitsight/pcb-inspection-service/detections"
)

func main() {
	modelPath := flag.String("model", "models/yolov12_pcb_640.onnx", "path to the ONNX detector")
	libPath := flag.String("lib", detections.DefaultLibraryPath(), "path to the ONNX Runtime shared library")
	device := flag.String("device", "", "CUDA device ordinal; empty for CPU")
	outputDir := flag.String("out", "results", "directory for annotated results")
	workers := flag.Int("workers", detections.MaxAcceleratorSessions, "batch workers (capped at 2)")
	conf := flag.Float64("conf", detections.DefaultConfThreshold, "confidence threshold")
	iou := flag.Float64("iou", detections.DefaultIoUThreshold, "NMS IoU threshold")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pcb-detect [flags] image [image ...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := zap.Must(zap.NewDevelopment()).Sugar()
	defer logger.Sync()

	detector, err := detections.NewDetector(detections.Config{
		ModelPath:   *modelPath,
		LibraryPath: *libPath,
		Device:      *device,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize detector: %v\n", err)
		os.Exit(1)
	}
	defer detector.Close()

	ctx := context.Background()

	if len(paths) == 1 {
		savePath := filepath.Join(*outputDir, "detected_"+filepath.Base(paths[0]))
		if err := os.MkdirAll(*outputDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
			os.Exit(1)
		}
		result, err := detector.Detect(ctx, paths[0], detections.DetectOptions{
			ConfThreshold: float32(*conf),
			IoUThreshold:  float32(*iou),
			SavePath:      savePath,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "detect %s: %v\n", paths[0], err)
			os.Exit(1)
		}
		fmt.Printf("%s: %d objects -> %s\n", paths[0], result.Count, savePath)
		return
	}

	results, err := detector.DetectBatch(ctx, paths, *outputDir, *workers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: %v\n", err)
		os.Exit(1)
	}

	failures := 0
	for i, result := range results {
		if result == nil {
			failures++
			fmt.Printf("%s: FAILED\n", paths[i])
			continue
		}
		fmt.Printf("%s: %d objects\n", paths[i], result.Count)
	}
	fmt.Printf("\nprocessed %d images, %d failed, results in %s\n", len(paths), failures, *outputDir)
	if failures > 0 {
		os.Exit(1)
	}
}
