package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_AnalyzeSuccess(t *testing.T) {
	var sawUpload, sawRun bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/v1/files/upload":
			sawUpload = true
			require.NoError(t, r.ParseMultipartForm(1<<20))
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			require.Equal(t, "detected_board.jpg", header.Filename)
			require.Equal(t, workflowUser, r.FormValue("user"))

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "abc123"})

		case "/v1/workflows/run":
			sawRun = true
			var payload struct {
				Inputs struct {
					Image struct {
						TransferMethod string `json:"transfer_method"`
						UploadFileID   string `json:"upload_file_id"`
					} `json:"image"`
				} `json:"inputs"`
				ResponseMode string `json:"response_mode"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "abc123", payload.Inputs.Image.UploadFileID)
			require.Equal(t, "local_file", payload.Inputs.Image.TransferMethod)
			require.Equal(t, "blocking", payload.ResponseMode)

			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"outputs": map[string]interface{}{"text": "检测到裂纹缺陷"},
				},
			})

		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", nil)
	result, err := client.Analyze(context.Background(), "detected_board.jpg", []byte("jpegdata"))
	require.NoError(t, err)
	require.True(t, sawUpload)
	require.True(t, sawRun)
	require.Equal(t, "检测到裂纹缺陷", result.Text)
	require.Equal(t, VerdictDefectFound, Classify(result.Text))
}

func TestClient_UploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage backend unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", nil)
	_, err := client.Analyze(context.Background(), "x.jpg", []byte("jpegdata"))
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
	require.Contains(t, svcErr.Body, "storage backend unavailable")
}

func TestClient_UploadMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", nil)
	_, err := client.UploadFile(context.Background(), "x.jpg", []byte("jpegdata"))
	require.Error(t, err)
}

func TestClient_WorkflowWithoutTextOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"outputs": map[string]interface{}{"score": 0.3},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", nil)
	result, err := client.RunWorkflow(context.Background(), "abc123")
	require.NoError(t, err)
	require.Empty(t, result.Text)
	require.Contains(t, result.Outputs, "score")
}

func TestClient_WorkflowTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from now on

	client := NewClient(srv.URL, "test-key", nil)
	_, err := client.RunWorkflow(context.Background(), "abc123")
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Zero(t, svcErr.StatusCode)
}
