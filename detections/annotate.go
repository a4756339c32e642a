package detections

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/circuitsight/pcb-inspection-service/models"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// classPalette assigns a stable color per defect class index.
var classPalette = []color.NRGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 44, G: 153, B: 168, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
}

// lineWidthFor scales box line width with image width, clamped to [1,3].
func lineWidthFor(imageWidth int) float64 {
	w := imageWidth / 500
	if w < 1 {
		w = 1
	}
	if w > 3 {
		w = 3
	}
	return float64(w)
}

// fontSizeFor scales label font size with image width, clamped to [8,16].
func fontSizeFor(imageWidth int) float64 {
	s := imageWidth / 100
	if s < 8 {
		s = 8
	}
	if s > 16 {
		s = 16
	}
	return float64(s)
}

func classColor(label string, classes []string) color.NRGBA {
	for i, c := range classes {
		if c == label {
			return classPalette[i%len(classPalette)]
		}
	}
	return classPalette[0]
}

// Annotate draws labeled detection boxes onto a copy of img and returns it.
// The input image is never modified.
func Annotate(img image.Image, detections []models.Detection, classes []string, showLabels, showConf bool) *image.NRGBA {
	dc := gg.NewContextForImage(img)

	width := img.Bounds().Dx()
	lineWidth := lineWidthFor(width)
	fontSize := fontSizeFor(width)
	face := truetype.NewFace(labelFont, &truetype.Options{Size: fontSize})
	dc.SetFontFace(face)

	for _, det := range detections {
		c := classColor(det.Label, classes)
		x1, y1 := float64(det.BBox[0]), float64(det.BBox[1])
		x2, y2 := float64(det.BBox[2]), float64(det.BBox[3])

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		label := labelText(det, showLabels, showConf)
		if label == "" {
			continue
		}

		tw, th := dc.MeasureString(label)
		// Label sits above the box unless that would leave the image.
		ly := y1 - th - 2
		if ly < 0 {
			ly = y1 + 2
		}
		dc.SetColor(c)
		dc.DrawRectangle(x1, ly, tw+4, th+4)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawString(label, x1+2, ly+th)
	}

	return imaging.Clone(dc.Image())
}

func labelText(det models.Detection, showLabels, showConf bool) string {
	switch {
	case showLabels && showConf:
		return fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
	case showLabels:
		return det.Label
	case showConf:
		return fmt.Sprintf("%.2f", det.Confidence)
	default:
		return ""
	}
}

// encodeJPEG renders an image as a quality-90 JPEG.
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
