package detections

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// DefaultLibraryPath returns the ONNX Runtime shared library name for the
// current OS, relative to the working directory.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "lib/libonnxruntime.1.20.0.dylib"
	case "windows":
		return "lib/onnxruntime.dll"
	default:
		return "lib/libonnxruntime.so.1.20.0"
	}
}

// initRuntime initializes the process-wide ONNX Runtime environment. Safe to
// call from every detector constructor; only the first call takes effect.
func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("initialize onnxruntime: %w", err)
		}
	})
	return runtimeErr
}
