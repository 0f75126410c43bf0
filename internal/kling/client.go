package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/wearlab/tryon-server/internal/config"
	"github.com/wearlab/tryon-server/internal/models"
)

// ErrTimeout marks a vendor call that exceeded its deadline; ErrUpstream
// marks any other vendor-side failure. Callers branch on these with errors.Is.
var (
	ErrTimeout  = errors.New("kling: request timed out")
	ErrUpstream = errors.New("kling: upstream error")
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type TryOnRequest struct {
	Mode             models.TryOnMode
	PersonImageURL   string
	TopGarmentURL    string
	BottomGarmentURL string
}

// TaskResult is the translated view of a vendor job. The vendor's raw integer
// status (0/1 pending, 2 success, anything else failed) is mapped to the
// TaskStatus enum here and only here.
type TaskResult struct {
	Status   models.TaskStatus
	ImageURL string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	return &Client{
		apiKey:  cfg.KlingAPIKey,
		baseURL: strings.TrimRight(cfg.KlingBaseURL, "/"),
		// Deadlines come from the caller's context: 30s for task creation
		// and continuation, 15s for result polling.
		httpClient: &http.Client{},
		log:        log,
	}
}

// CreateTask submits a try-on job and returns the vendor-issued task id.
func (c *Client) CreateTask(ctx context.Context, req TryOnRequest) (string, error) {
	payload := map[string]any{
		"mode":         string(req.Mode),
		"person_image": req.PersonImageURL,
	}
	if req.TopGarmentURL != "" {
		payload["top_garment"] = req.TopGarmentURL
	}
	if req.BottomGarmentURL != "" {
		payload["bottom_garment"] = req.BottomGarmentURL
	}
	return c.postForTaskID(ctx, "/v1/images/try-on", payload)
}

// ContinueTask submits the second phase of a full-outfit job, feeding the
// first phase's output image back in. The vendor resolves the remaining
// garment from the original task id.
func (c *Client) ContinueTask(ctx context.Context, step1TaskID, step1ImageURL string) (string, error) {
	payload := map[string]any{
		"task_id":      step1TaskID,
		"person_image": step1ImageURL,
	}
	return c.postForTaskID(ctx, "/v1/images/try-on/continue", payload)
}

func (c *Client) postForTaskID(ctx context.Context, path string, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint(path, nil)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("kling create task failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("%w: code=%d msg=%s", ErrUpstream, createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("%w: empty taskId in response", ErrUpstream)
	}

	if c.log != nil {
		c.log.Info("kling task created", "task_id", createResp.Data.TaskID)
	}
	return createResp.Data.TaskID, nil
}

// TaskResult fetches the current state of a job. It never waits for
// completion; the browser drives the retry cadence.
func (c *Client) TaskResult(ctx context.Context, taskID string) (*TaskResult, error) {
	params := url.Values{}
	params.Set("taskId", taskID)
	fullURL, err := c.endpoint("/v1/images/try-on/result", params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("kling task result failed", "status", resp.StatusCode, "task_id", taskID, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, truncateBody(rawBody))
	}

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID   string `json:"taskId"`
			Status   int    `json:"status"`
			ImageURL string `json:"imageUrl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &statusResp); err != nil {
		return nil, fmt.Errorf("decode result response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if statusResp.Code != 200 {
		return nil, fmt.Errorf("%w: code=%d msg=%s", ErrUpstream, statusResp.Code, statusResp.Msg)
	}

	result := &TaskResult{Status: translateStatus(statusResp.Data.Status)}
	if result.Status == models.StatusSucceeded {
		if statusResp.Data.ImageURL == "" {
			return nil, fmt.Errorf("%w: success without image url", ErrUpstream)
		}
		result.ImageURL = statusResp.Data.ImageURL
	}
	return result, nil
}

func translateStatus(raw int) models.TaskStatus {
	switch raw {
	case 0, 1:
		return models.StatusPending
	case 2:
		return models.StatusSucceeded
	default:
		return models.StatusFailed
	}
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if params != nil {
		ref.RawQuery = params.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

// classify separates deadline expiry from other transport failures so the
// coordinator can report 504 vs 502.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
