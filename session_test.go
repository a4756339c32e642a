package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/circuitsight/pcb-inspection-service/analysis"
)

func uploadedSession(t *testing.T) *Session {
	t.Helper()
	s := NewSessionStore().Create()
	s.SetUpload(UploadInfo{Name: "board.png", Size: 1000, Width: 640, Height: 480, Format: "png"}, []byte("img"))
	return s
}

func detectedSession(t *testing.T) *Session {
	t.Helper()
	s := uploadedSession(t)
	require.NoError(t, s.StartDetection())
	s.FinishDetection(&DetectionResult{JPEG: []byte("annotated"), Count: 2})
	return s
}

func analyzedSession(t *testing.T) *Session {
	t.Helper()
	s := detectedSession(t)
	require.NoError(t, s.StartAnalysis())
	s.FinishAnalysis(&AnalysisResult{Text: "检测到缺陷", Verdict: analysis.VerdictDefectFound, At: time.Now()})
	return s
}

func TestSession_SameIdentityKeepsResults(t *testing.T) {
	s := analyzedSession(t)

	cleared := s.SetUpload(UploadInfo{Name: "board.png", Size: 1000}, []byte("img"))
	require.False(t, cleared)

	_, err := s.Detection()
	require.NoError(t, err)
	_, err = s.Analysis()
	require.NoError(t, err)
}

func TestSession_DifferentNameClearsResults(t *testing.T) {
	s := analyzedSession(t)

	cleared := s.SetUpload(UploadInfo{Name: "other.png", Size: 1000}, []byte("img"))
	require.True(t, cleared)

	_, err := s.Detection()
	require.ErrorIs(t, err, errNoDetection)
	_, err = s.Analysis()
	require.ErrorIs(t, err, errNoAnalysis)
}

func TestSession_DifferentSizeClearsResults(t *testing.T) {
	s := analyzedSession(t)

	cleared := s.SetUpload(UploadInfo{Name: "board.png", Size: 2000}, []byte("imgimg"))
	require.True(t, cleared)

	_, err := s.Detection()
	require.ErrorIs(t, err, errNoDetection)
}

func TestSession_RedetectClearsAnalysis(t *testing.T) {
	s := analyzedSession(t)

	require.NoError(t, s.StartDetection())
	s.FinishDetection(&DetectionResult{JPEG: []byte("annotated2"), Count: 1})

	_, err := s.Analysis()
	require.ErrorIs(t, err, errNoAnalysis)
	_, err = s.Detection()
	require.NoError(t, err)
}

func TestSession_FailedDetectionKeepsPriorState(t *testing.T) {
	s := analyzedSession(t)

	require.NoError(t, s.StartDetection())
	s.FailDetection()

	det, err := s.Detection()
	require.NoError(t, err)
	require.Equal(t, []byte("annotated"), det.JPEG)
	_, err = s.Analysis()
	require.NoError(t, err)
}

func TestSession_FailedAnalysisKeepsDetection(t *testing.T) {
	s := detectedSession(t)

	require.NoError(t, s.StartAnalysis())
	s.FailAnalysis("upload file: HTTP 500")

	_, err := s.Detection()
	require.NoError(t, err)

	res, err := s.Analysis()
	require.ErrorIs(t, err, errAnalysisError)
	require.Equal(t, "upload file: HTTP 500", res.ErrText)
}

func TestSession_Gates(t *testing.T) {
	s := NewSessionStore().Create()

	require.ErrorIs(t, s.StartDetection(), errNoUpload)
	require.ErrorIs(t, s.StartAnalysis(), errNoDetection)

	s.SetUpload(UploadInfo{Name: "a.png", Size: 1}, []byte("x"))
	require.NoError(t, s.StartDetection())
	require.ErrorIs(t, s.StartDetection(), errStepInFlight)
}

func TestSession_Reset(t *testing.T) {
	s := analyzedSession(t)
	s.Reset()

	status := s.Status()
	require.Nil(t, status.Upload)
	require.False(t, status.HasDetection)
	require.False(t, status.HasAnalysis)

	_, _, err := s.Image()
	require.ErrorIs(t, err, errNoUpload)
}

func TestSessionStore(t *testing.T) {
	store := NewSessionStore()
	s := store.Create()
	require.NotEmpty(t, s.ID)

	got, ok := store.Get(s.ID)
	require.True(t, ok)
	require.Same(t, s, got)

	_, ok = store.Get("nope")
	require.False(t, ok)
}
