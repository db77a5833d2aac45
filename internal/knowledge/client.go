// Package knowledge provides the side-channel HTTP client to the knowledge
// backend's job queue. These are independent request/response exchanges, not
// the per-room persistent connection: a queued report job, for example, is
// acknowledged here but delivers its result later as a meeting_report frame
// on the room's connection.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client calls the knowledge backend's job-queue endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig holds configuration for the side-channel client.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: 15 * time.Second,
	}
}

// NewClient creates a side-channel client for the backend at cfg.BaseURL.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultClientConfig().RequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}
}

// FileRef points at an uploaded session artifact for document ingestion.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SubmitDocumentJob queues ingestion of session artifacts. The backend
// acknowledges queuing and reports completion later with a
// document_processed frame on the room's connection.
func (c *Client) SubmitDocumentJob(ctx context.Context, roomID, description string, files []FileRef) error {
	payload := map[string]any{
		"roomId":      roomID,
		"description": description,
		"files":       files,
	}
	return c.post(ctx, "/jobs/documents", payload)
}

// SubmitReportJob queues meeting-report generation for the room. The
// acknowledgment only confirms queuing; the result arrives as a
// meeting_report frame.
func (c *Client) SubmitReportJob(ctx context.Context, roomID string) error {
	return c.post(ctx, "/jobs/reports", map[string]any{"roomId": roomID})
}

// EndSession tells the backend the room's session is over so it can finalize
// indexes and release room-scoped resources.
func (c *Client) EndSession(ctx context.Context, roomID string) error {
	return c.post(ctx, "/sessions/end", map[string]any{"roomId": roomID})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "path", path, "error", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
