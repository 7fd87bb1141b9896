// internal/client/client.go
package client

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/webgis/backend/pkg/core"
)

// Client talks to the gisserver HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client. token is sent as a bearer token when set.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s: %s", e.Status, e.Code, e.Detail)
}

// UploadResponse is the server's answer to a layer or feature upload.
type UploadResponse struct {
	Message      string `json:"message"`
	UploadID     string `json:"upload_id"`
	FeatureCount int    `json:"feature_count"`
	Layer        struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	} `json:"layer"`
}

// Healthcheck checks if the server is up.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// UploadLayer creates a new layer from the file at filePath.
// An empty filePath creates a layer without features.
func (c *Client) UploadLayer(ctx context.Context, filePath string, form core.LayerUploadForm) (*UploadResponse, error) {
	return c.upload(ctx, "/api/v1/layers", filePath, form)
}

// AppendFeatures adds the features of the file at filePath to an existing layer.
func (c *Client) AppendFeatures(ctx context.Context, filePath string, form core.FeatureUploadForm) (*UploadResponse, error) {
	return c.upload(ctx, "/api/v1/features/feature-to-layers", filePath, form)
}

func (c *Client) upload(ctx context.Context, path, filePath string, form any) (*UploadResponse, error) {
	formJSON, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}

	var file *os.File
	if filePath != "" {
		file, err = os.Open(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer writer.Close()

		if err := writer.WriteField("form", string(formJSON)); err != nil {
			errCh <- fmt.Errorf("failed to write form field: %w", err)
			return
		}
		if file != nil {
			part, err := writer.CreateFormFile("file", filepath.Base(filePath))
			if err != nil {
				errCh <- fmt.Errorf("failed to create form file: %w", err)
				return
			}
			if _, err := io.Copy(part, file); err != nil {
				errCh <- fmt.Errorf("failed to copy file: %w", err)
				return
			}
		}
		errCh <- nil
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return nil, apiErr
	}
	if writeErr := <-errCh; writeErr != nil {
		return nil, writeErr
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
