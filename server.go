package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"

	"github.com/circuitsight/pcb-inspection-service/analysis"
	"github.com/circuitsight/pcb-inspection-service/detections"
)

const maxUploadBytes = 20 << 20

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

// defectDetector is what the orchestrator needs from the inference wrapper.
type defectDetector interface {
	Detect(ctx context.Context, input interface{}, opts detections.DetectOptions) (*detections.Result, error)
	State() detections.State
	Metrics() detections.PoolMetricsSnapshot
}

// workflowAnalyzer is what the orchestrator needs from the analysis client.
type workflowAnalyzer interface {
	Analyze(ctx context.Context, filename string, image []byte) (*analysis.WorkflowResult, error)
}

// Server orchestrates the upload, detect, analyze steps over HTTP.
type Server struct {
	store    *SessionStore
	detector defectDetector
	cfg      *Config
	logger   *zap.SugaredLogger

	// newAnalyzer builds a client for the configured or request-supplied
	// analysis endpoint. Swappable in tests.
	newAnalyzer func(baseURL, apiKey string) workflowAnalyzer
}

func NewServer(cfg *Config, detector defectDetector, logger *zap.SugaredLogger) *Server {
	s := &Server{
		store:    NewSessionStore(),
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
	s.newAnalyzer = func(baseURL, apiKey string) workflowAnalyzer {
		return analysis.NewClient(baseURL, apiKey, logger)
	}
	return s
}

func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/sessions", s.handleCreateSession).Methods("POST")
	r.HandleFunc("/api/sessions/{id}", s.handleSessionStatus).Methods("GET")
	r.HandleFunc("/api/sessions/{id}/image", s.handleUpload).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/detection.jpg", s.handleDownloadDetection).Methods("GET")
	r.HandleFunc("/api/sessions/{id}/analyze", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/report", s.handleDownloadReport).Methods("GET")
	r.HandleFunc("/api/sessions/{id}/reset", s.handleReset).Methods("POST")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	return r
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := mux.Vars(r)["id"]
	session, ok := s.store.Get(id)
	if !ok {
		sendErrorResponse(w, "session_not_found", "unknown session id", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	session := s.store.Create()
	sendJSON(w, map[string]string{"id": session.ID})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	sendJSON(w, session.Status())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendErrorResponse(w, "payload_too_large", fmt.Sprintf("upload exceeds %d bytes", maxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		sendErrorResponse(w, "invalid_request", "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		sendErrorResponse(w, "unsupported_format", fmt.Sprintf("unsupported extension %q, want png/jpg/jpeg/bmp", ext), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	imgCfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		sendErrorResponse(w, "invalid_image", "failed to decode image", http.StatusBadRequest)
		return
	}

	info := UploadInfo{
		Name:   header.Filename,
		Size:   int64(len(data)),
		Width:  imgCfg.Width,
		Height: imgCfg.Height,
		Format: format,
	}
	cleared := session.SetUpload(info, data)

	s.logger.Infow("image uploaded",
		"session", session.ID, "name", info.Name, "size", info.Size,
		"dims", fmt.Sprintf("%dx%d", info.Width, info.Height), "cleared_results", cleared)

	sendJSON(w, map[string]interface{}{
		"upload":          info,
		"cleared_results": cleared,
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	if s.detector.State() != detections.StateReady {
		sendErrorResponse(w, "detector_unavailable", "detector is not ready", http.StatusServiceUnavailable)
		return
	}
	if err := session.StartDetection(); err != nil {
		s.sendGateError(w, err)
		return
	}

	info, data, err := session.Image()
	if err != nil {
		session.FailDetection()
		s.sendGateError(w, err)
		return
	}

	// The wrapper consumes a file path; round-trip through a temp file.
	tmp, err := os.CreateTemp("", "pcb-upload-*"+strings.ToLower(filepath.Ext(info.Name)))
	if err != nil {
		session.FailDetection()
		sendErrorResponse(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		session.FailDetection()
		sendErrorResponse(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	tmp.Close()

	start := time.Now()
	result, err := s.detector.Detect(r.Context(), tmpPath, detections.DetectOptions{})
	if err != nil {
		session.FailDetection()
		s.sendDetectError(w, err)
		return
	}

	session.FinishDetection(&DetectionResult{
		JPEG:    result.JPEG,
		Count:   result.Count,
		Elapsed: time.Since(start),
		Timings: result.Timings,
	})

	sendJSON(w, map[string]interface{}{
		"object_count": result.Count,
		"elapsed_ms":   time.Since(start).Milliseconds(),
		"request_id":   result.Timings.RequestID,
	})
}

func (s *Server) sendGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNoUpload):
		sendErrorResponse(w, "no_upload", "upload an image first", http.StatusConflict)
	case errors.Is(err, errNoDetection):
		sendErrorResponse(w, "no_detection", "run detection first", http.StatusConflict)
	case errors.Is(err, errStepInFlight):
		sendErrorResponse(w, "step_in_flight", "this step is already running", http.StatusConflict)
	default:
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
	}
}

func (s *Server) sendDetectError(w http.ResponseWriter, err error) {
	var unsupported *detections.UnsupportedInputError
	switch {
	case errors.As(err, &unsupported), errors.Is(err, fs.ErrNotExist):
		sendErrorResponse(w, "invalid_input", err.Error(), http.StatusBadRequest)
	default:
		sendErrorResponse(w, "inference_error", err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleDownloadDetection(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	det, err := session.Detection()
	if err != nil {
		s.sendGateError(w, err)
		return
	}

	name := "detection_result.jpg"
	if info, _, err := session.Image(); err == nil {
		name = detectedName(info.Name)
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(det.JPEG)
}

type analyzeRequest struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req analyzeRequest
	if r.Body != nil {
		// An empty or absent body just means "use configured defaults".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = s.cfg.AnalysisBaseURL
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = s.cfg.AnalysisAPIKey
	}
	if baseURL == "" || apiKey == "" {
		sendErrorResponse(w, "analysis_not_configured", "analysis service URL and API key are required", http.StatusBadRequest)
		return
	}

	if err := session.StartAnalysis(); err != nil {
		s.sendGateError(w, err)
		return
	}
	det, err := session.Detection()
	if err != nil {
		session.FailAnalysis(err.Error())
		s.sendGateError(w, err)
		return
	}

	filename := "detection_result.jpg"
	if info, _, err := session.Image(); err == nil {
		filename = detectedName(info.Name)
	}

	client := s.newAnalyzer(baseURL, apiKey)
	result, err := client.Analyze(r.Context(), filename, det.JPEG)
	if err != nil {
		session.FailAnalysis(err.Error())
		s.logger.Warnw("analysis failed", "session", session.ID, "error", err)
		sendErrorResponse(w, "service_error", err.Error(), http.StatusBadGateway)
		return
	}

	verdict := analysis.Classify(result.Text)
	session.FinishAnalysis(&AnalysisResult{
		Text:    result.Text,
		Verdict: verdict,
		Outputs: result.Outputs,
		At:      time.Now(),
	})

	s.logger.Infow("analysis complete", "session", session.ID, "verdict", verdict)
	sendJSON(w, map[string]interface{}{
		"verdict": verdict,
		"message": analysis.Message(verdict),
		"text":    result.Text,
	})
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := session.Analysis()
	if err != nil {
		if errors.Is(err, errAnalysisError) {
			sendErrorResponse(w, "analysis_failed", res.ErrText, http.StatusConflict)
			return
		}
		sendErrorResponse(w, "no_analysis", "run analysis first", http.StatusConflict)
		return
	}

	count := 0
	if det, err := session.Detection(); err == nil {
		count = det.Count
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="analysis_report.txt"`)
	io.WriteString(w, analysis.BuildReport(res.Text, res.Verdict, count, res.At))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	session.Reset()
	sendJSON(w, session.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.detector.State()
	if state != detections.StateReady {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"state": state.String()})
		return
	}
	sendJSON(w, map[string]string{"state": state.String()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, s.detector.Metrics())
}

func detectedName(uploadName string) string {
	base := strings.TrimSuffix(filepath.Base(uploadName), filepath.Ext(uploadName))
	return "detected_" + base + ".jpg"
}
