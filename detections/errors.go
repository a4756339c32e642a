package detections

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when Detect is called before the model finished
// loading and warming up, or after loading failed.
var ErrNotReady = errors.New("detector is not ready")

// ModelLoadError means the model artifact could not be loaded. The detector
// instance is unusable after this; create a fresh one.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// UnsupportedInputError means the caller passed something that is not a file
// path, an image.Image, or an io.Reader.
type UnsupportedInputError struct {
	Input interface{}
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("unsupported image input type %T", e.Input)
}

// InferenceError wraps a failure of the underlying model run.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
