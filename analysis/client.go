// Package analysis talks to the external workflow service that turns an
// annotated defect image into a natural-language summary.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// uploadTimeout bounds the multipart file upload call.
	uploadTimeout = 60 * time.Second
	// workflowTimeout bounds the workflow run call.
	workflowTimeout = 120 * time.Second

	// workflowUser identifies this service to the workflow API.
	workflowUser = "pcb-inspection-service"
)

// ServiceError is a non-2xx or transport failure from the workflow service.
// The body is kept verbatim so the orchestrator can surface it.
type ServiceError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WorkflowResult is a successful analysis run.
type WorkflowResult struct {
	// Text is the free-text summary extracted from data.outputs.text.
	Text string
	// Outputs is the raw outputs object for callers that want more.
	Outputs map[string]interface{}
}

// Client issues the two sequential calls of an analysis: file upload, then
// workflow run referencing the uploaded file. There is no retry on either.
type Client struct {
	baseURL        string
	apiKey         string
	uploadClient   *http.Client
	workflowClient *http.Client
	logger         *zap.SugaredLogger
}

func NewClient(baseURL, apiKey string, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		uploadClient:   &http.Client{Timeout: uploadTimeout},
		workflowClient: &http.Client{Timeout: workflowTimeout},
		logger:         logger,
	}
}

// UploadFile sends image bytes as a multipart upload and returns the file id
// the service assigned.
func (c *Client) UploadFile(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}
	if err := writer.WriteField("user", workflowUser); err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files/upload", &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return "", &ServiceError{Op: "upload file", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ServiceError{Op: "upload file", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &uploaded); err != nil {
		return "", &ServiceError{Op: "upload file", Err: fmt.Errorf("decode response: %w", err)}
	}
	if uploaded.ID == "" {
		return "", &ServiceError{Op: "upload file", Err: fmt.Errorf("response has no file id")}
	}

	c.logger.Debugw("uploaded analysis input", "file_id", uploaded.ID, "bytes", len(data))
	return uploaded.ID, nil
}

// RunWorkflow invokes the workflow in blocking mode with a reference to a
// previously uploaded file and extracts the free-text output field.
func (c *Client) RunWorkflow(ctx context.Context, fileID string) (*WorkflowResult, error) {
	payload := map[string]interface{}{
		"inputs": map[string]interface{}{
			"image": map[string]interface{}{
				"type":            "image",
				"transfer_method": "local_file",
				"upload_file_id":  fileID,
			},
		},
		"response_mode": "blocking",
		"user":          workflowUser,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("build workflow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/workflows/run", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build workflow request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.workflowClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Op: "run workflow", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{Op: "run workflow", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var decoded struct {
		Data struct {
			Outputs map[string]interface{} `json:"outputs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &ServiceError{Op: "run workflow", Err: fmt.Errorf("decode response: %w", err)}
	}

	text, _ := decoded.Data.Outputs["text"].(string)
	return &WorkflowResult{
		Text:    text,
		Outputs: decoded.Data.Outputs,
	}, nil
}

// Analyze runs the full two-call sequence for one annotated image.
func (c *Client) Analyze(ctx context.Context, filename string, image []byte) (*WorkflowResult, error) {
	fileID, err := c.UploadFile(ctx, filename, image)
	if err != nil {
		return nil, err
	}
	return c.RunWorkflow(ctx, fileID)
}
