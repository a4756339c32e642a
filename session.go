package main

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/circuitsight/pcb-inspection-service/analysis"
	"github.com/circuitsight/pcb-inspection-service/models"
)

var (
	errNoUpload      = errors.New("no image uploaded")
	errNoDetection   = errors.New("no detection result")
	errStepInFlight  = errors.New("step already in flight")
	errNoAnalysis    = errors.New("no analysis result")
	errAnalysisError = errors.New("last analysis failed")
)

// UploadInfo identifies and describes the uploaded image. Name and Size
// together form the upload identity used for invalidation.
type UploadInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

type DetectionResult struct {
	JPEG    []byte
	Count   int
	Elapsed time.Duration
	Timings models.ProcessingTimings
}

type AnalysisResult struct {
	Text    string
	Verdict analysis.Verdict
	Outputs map[string]interface{}
	// ErrText is set instead of the fields above when the run failed.
	ErrText string
	At      time.Time
}

// Session is the versioned per-user record of the three-step workflow. All
// mutation goes through methods that enforce the invalidation rules:
// a new upload identity clears detection and analysis, a re-run of detection
// clears analysis, reset clears everything.
type Session struct {
	ID string

	mu        sync.Mutex
	version   int
	upload    *UploadInfo
	image     []byte
	detection *DetectionResult
	analysis  *AnalysisResult
	detecting bool
	analyzing bool
}

// SessionStatus is the serializable view of a session.
type SessionStatus struct {
	ID           string      `json:"id"`
	Version      int         `json:"version"`
	Upload       *UploadInfo `json:"upload,omitempty"`
	HasDetection bool        `json:"has_detection"`
	ObjectCount  int         `json:"object_count,omitempty"`
	HasAnalysis  bool        `json:"has_analysis"`
	AnalysisOK   bool        `json:"analysis_ok,omitempty"`
	Detecting    bool        `json:"detecting"`
	Analyzing    bool        `json:"analyzing"`
}

// SetUpload records a new upload. When the (name, size) identity differs from
// the previous upload, stale detection and analysis results are dropped.
// Returns true when results were cleared.
func (s *Session) SetUpload(info UploadInfo, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := false
	if s.upload == nil || s.upload.Name != info.Name || s.upload.Size != info.Size {
		s.detection = nil
		s.analysis = nil
		cleared = true
	}

	s.upload = &info
	s.image = data
	s.version++
	return cleared
}

// Image returns the uploaded bytes and metadata.
func (s *Session) Image() (*UploadInfo, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upload == nil {
		return nil, nil, errNoUpload
	}
	return s.upload, s.image, nil
}

// StartDetection gates step two: an upload must exist and no detection may be
// in flight.
func (s *Session) StartDetection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upload == nil {
		return errNoUpload
	}
	if s.detecting {
		return errStepInFlight
	}
	s.detecting = true
	return nil
}

// FinishDetection stores a fresh result. Any displayed analysis belongs to the
// previous detection and is invalidated here.
func (s *Session) FinishDetection(res *DetectionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detection = res
	s.analysis = nil
	s.detecting = false
	s.version++
}

// FailDetection releases the in-flight flag and leaves prior state untouched.
func (s *Session) FailDetection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detecting = false
}

// Detection returns the stored detection result.
func (s *Session) Detection() (*DetectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detection == nil {
		return nil, errNoDetection
	}
	return s.detection, nil
}

// StartAnalysis gates step three: a detection result must exist and no
// analysis may be in flight.
func (s *Session) StartAnalysis() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detection == nil {
		return errNoDetection
	}
	if s.analyzing {
		return errStepInFlight
	}
	s.analyzing = true
	return nil
}

func (s *Session) FinishAnalysis(res *AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = res
	s.analyzing = false
	s.version++
}

// FailAnalysis records the failure text; the detection result stays as is.
func (s *Session) FailAnalysis(errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = &AnalysisResult{ErrText: errText, At: time.Now()}
	s.analyzing = false
	s.version++
}

// Analysis returns the last successful analysis.
func (s *Session) Analysis() (*AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis == nil {
		return nil, errNoAnalysis
	}
	if s.analysis.ErrText != "" {
		return s.analysis, errAnalysisError
	}
	return s.analysis, nil
}

// Reset clears all state, returning the session to the pre-upload step.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload = nil
	s.image = nil
	s.detection = nil
	s.analysis = nil
	s.detecting = false
	s.analyzing = false
	s.version++
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SessionStatus{
		ID:           s.ID,
		Version:      s.version,
		Upload:       s.upload,
		HasDetection: s.detection != nil,
		HasAnalysis:  s.analysis != nil,
		Detecting:    s.detecting,
		Analyzing:    s.analyzing,
	}
	if s.detection != nil {
		status.ObjectCount = s.detection.Count
	}
	if s.analysis != nil {
		status.AnalysisOK = s.analysis.ErrText == ""
	}
	return status
}

// SessionStore is an in-memory session registry.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

func (st *SessionStore) Create() *Session {
	session := &Session{ID: uuid.NewString()}
	st.mu.Lock()
	st.sessions[session.ID] = session
	st.mu.Unlock()
	return session
}

func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	session, ok := st.sessions[id]
	st.mu.RUnlock()
	return session, ok
}
