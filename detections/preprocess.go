package detections

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// Preprocess normalizes an input into an RGBA image suitable for detection.
// The input may be a file path, an image.Image, or an io.Reader holding
// encoded image bytes. When the longer side exceeds maxSize the image is
// downscaled proportionally with Lanczos resampling; dimensions are truncated,
// so a 3000x2000 image at maxSize 1920 comes out 1920x1280.
func Preprocess(input interface{}, maxSize int) (*image.NRGBA, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var img image.Image
	switch src := input.(type) {
	case string:
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("open image: %w", err)
		}
		defer f.Close()
		img, _, err = image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode image %s: %w", src, err)
		}
	case image.Image:
		img = src
	case io.Reader:
		var err error
		img, _, err = image.Decode(src)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
	default:
		return nil, &UnsupportedInputError{Input: input}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longer := w
	if h > longer {
		longer = h
	}

	if longer > maxSize {
		ratio := float64(maxSize) / float64(longer)
		newW := int(float64(w) * ratio)
		newH := int(float64(h) * ratio)
		return imaging.Resize(img, newW, newH, imaging.Lanczos), nil
	}

	// Clone normalizes paletted, grayscale and CMYK sources to NRGBA.
	return imaging.Clone(img), nil
}
