package detections

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// rawPredictions builds an empty [4+C, 8400] output buffer.
func rawPredictions() []float32 {
	return make([]float32, (4+len(PCBDefectClasses))*numPredictions)
}

// setPrediction writes one anchor: center-format box in InputSize pixels plus
// a single class score.
func setPrediction(preds []float32, anchor int, cx, cy, w, h float32, classID int, score float32) {
	preds[anchor] = cx
	preds[numPredictions+anchor] = cy
	preds[2*numPredictions+anchor] = w
	preds[3*numPredictions+anchor] = h
	preds[(4+classID)*numPredictions+anchor] = score
}

func TestDecodePredictions_Empty(t *testing.T) {
	dets, err := decodePredictions(rawPredictions(), 640, 640, PCBDefectClasses, DefaultConfThreshold, DefaultIoUThreshold)
	require.NoError(t, err)
	require.Empty(t, dets)
}

func TestDecodePredictions_BadLength(t *testing.T) {
	_, err := decodePredictions(make([]float32, 10), 640, 640, PCBDefectClasses, DefaultConfThreshold, DefaultIoUThreshold)
	require.Error(t, err)
}

func TestDecodePredictions_FiltersByConfidence(t *testing.T) {
	preds := rawPredictions()
	setPrediction(preds, 0, 100, 100, 40, 40, 3, 0.9)
	setPrediction(preds, 1, 400, 400, 40, 40, 1, 0.1)

	dets, err := decodePredictions(preds, 640, 640, PCBDefectClasses, 0.25, DefaultIoUThreshold)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, "short", dets[0].Label)
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
}

func TestDecodePredictions_NMSSuppressesOverlaps(t *testing.T) {
	preds := rawPredictions()
	// Two near-identical boxes for the same region; only the stronger survives.
	setPrediction(preds, 0, 100, 100, 40, 40, 0, 0.9)
	setPrediction(preds, 1, 102, 102, 40, 40, 0, 0.7)
	// A distant box is unaffected.
	setPrediction(preds, 2, 500, 500, 40, 40, 2, 0.8)

	dets, err := decodePredictions(preds, 640, 640, PCBDefectClasses, 0.25, 0.45)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	require.InDelta(t, 0.8, dets[1].Confidence, 1e-6)
}

func TestDecodePredictions_ScalesToTarget(t *testing.T) {
	preds := rawPredictions()
	setPrediction(preds, 0, 320, 320, 640, 640, 0, 0.9)

	dets, err := decodePredictions(preds, 1920, 1280, PCBDefectClasses, 0.25, 0.45)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, [4]int32{0, 0, 1920, 1280}, dets[0].BBox)
}

func TestScaleBBox_Clamps(t *testing.T) {
	// A box hanging off the top-left corner is clamped to the image.
	box := scaleBBox(0, 0, 100, 100, 640, 640)
	require.Equal(t, int32(0), box[0])
	require.Equal(t, int32(0), box[1])
	require.Equal(t, int32(50), box[2])
	require.Equal(t, int32(50), box[3])
}

func TestBoxIoU(t *testing.T) {
	a := [4]int32{0, 0, 100, 100}
	require.InDelta(t, 1.0, boxIoU(a, a), 1e-6)

	disjoint := [4]int32{200, 200, 300, 300}
	require.InDelta(t, 0.0, boxIoU(a, disjoint), 1e-6)

	half := [4]int32{0, 0, 100, 50}
	require.InDelta(t, 0.5, boxIoU(a, half), 1e-6)
}
