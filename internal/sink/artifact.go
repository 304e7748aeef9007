/**
 * Artifact upload sink
 *
 * Posts rendered outputs to an artifact storage API as multipart forms.
 * Upload flow:
 * 1. Worker renders the PDF inside the engine file system
 * 2. Worker posts it to /api/files/upload with the job id as source
 * 3. API stores it and returns an artifact id and download URL
 */

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// SourceService identifies this worker to the artifact API.
const SourceService = "ocr-worker"

// ArtifactWriter uploads files to the artifact API.
type ArtifactWriter struct {
	baseURL    string
	httpClient *http.Client
	ttlDays    int
	logger     *logging.Logger
}

// ArtifactResponse is the response from uploading an artifact.
type ArtifactResponse struct {
	Success  bool `json:"success"`
	Artifact struct {
		ID             string `json:"id"`
		Filename       string `json:"filename"`
		FileSize       int64  `json:"file_size"`
		MimeType       string `json:"mime_type"`
		StorageBackend string `json:"storage_backend"`
		DownloadURL    string `json:"download_url"`
	} `json:"artifact,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewArtifactWriter creates an uploader for baseURL. ttlDays <= 0 keeps
// artifacts for 100 years.
func NewArtifactWriter(baseURL string, ttlDays int, logger *logging.Logger) *ArtifactWriter {
	if logger == nil {
		logger = logging.NewLogger("sink")
	}
	if ttlDays <= 0 {
		ttlDays = 36500
	}
	return &ArtifactWriter{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		ttlDays: ttlDays,
		logger:  logger,
	}
}

// HealthCheck verifies the artifact API is available.
func (w *ArtifactWriter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("artifact service health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("artifact service health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Write uploads f and returns its download URL.
func (w *ArtifactWriter) Write(ctx context.Context, f File) (string, error) {
	if len(f.Data) == 0 {
		return "", fmt.Errorf("file buffer is required: received empty buffer")
	}
	if f.Name == "" {
		return "", fmt.Errorf("filename is required: received empty string")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", f.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", fmt.Errorf("failed to write file data to form: %w", err)
	}
	fields := [][2]string{
		{"source_service", SourceService},
		{"source_id", f.JobID},
		{"mime_type", f.ContentType},
		{"ttl_days", strconv.Itoa(w.ttlDays)},
	}
	for _, kv := range fields {
		if err := form.WriteField(kv[0], kv[1]); err != nil {
			return "", fmt.Errorf("failed to write %s field: %w", kv[0], err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/api/files/upload", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request to artifact storage failed after %v: %w", time.Since(start), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("artifact upload failed with HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result ArtifactResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse artifact upload response: %w (raw response: %s)", err, string(respBody))
	}
	if !result.Success {
		return "", fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}
	if result.Artifact.ID == "" {
		return "", fmt.Errorf("artifact upload succeeded but returned empty artifact ID")
	}

	w.logger.Info("Artifact uploaded",
		"job_id", f.JobID,
		"id", result.Artifact.ID,
		"storage", result.Artifact.StorageBackend,
		"duration", time.Since(start))
	return result.Artifact.DownloadURL, nil
}
