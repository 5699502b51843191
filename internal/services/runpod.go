package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/beatframe/internal/jobs"
)

// ---------------------------------------------------------------------------
// RunPod serverless renderer
// Each model is a serverless endpoint: POST {base}/{endpoint}/run submits a
// job, GET {base}/{endpoint}/status/{id} reports its state and output.
// ---------------------------------------------------------------------------

const (
	DefaultRunPodBaseURL = "https://api.runpod.ai/v2"

	DefaultRunPodImageEndpoint = "seedream-v4-t2i"
	DefaultRunPodVideoEndpoint = "wan-2-5"
	DefaultRunPodEditEndpoint  = "seedream-v4-edit"

	runpodSubmitTimeout = 30 * time.Second
	runpodStatusTimeout = 10 * time.Second // per status request, not the whole poll
)

// RunPodRenderer implements jobs.Renderer for one RunPod endpoint.
type RunPodRenderer struct {
	apiKey     string
	baseURL    string
	endpoint   string
	httpClient *http.Client
}

// NewRunPodRenderer creates a renderer. An empty baseURL uses the public API.
func NewRunPodRenderer(apiKey, baseURL, endpoint string) *RunPodRenderer {
	if baseURL == "" {
		baseURL = DefaultRunPodBaseURL
	}
	return &RunPodRenderer{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		endpoint: strings.Trim(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: runpodSubmitTimeout,
		},
	}
}

// runpodRunResponse is the response from POST /run
type runpodRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Submit posts {input: {...}} and returns the job id.
func (r *RunPodRenderer) Submit(ctx context.Context, req jobs.Request) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/run", r.baseURL, r.endpoint)
	body, err := r.do(ctx, http.MethodPost, url, jsonData)
	if err != nil {
		return "", err
	}

	var runResp runpodRunResponse
	if err := json.Unmarshal(body, &runResp); err != nil {
		return "", fmt.Errorf("failed to parse run response: %w (body: %s)", err, jobs.Truncate(string(body), 200))
	}
	if runResp.ID == "" {
		return "", fmt.Errorf("no id in run response: %s", jobs.Truncate(string(body), 200))
	}

	log.Printf("[RunPod] %s job submitted: %s (status=%s)", r.endpoint, runResp.ID, runResp.Status)
	return runResp.ID, nil
}

// Status fetches a job's current status.
func (r *RunPodRenderer) Status(ctx context.Context, jobID string) (*jobs.StatusResponse, error) {
	statusCtx, cancel := context.WithTimeout(ctx, runpodStatusTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/status/%s", r.baseURL, r.endpoint, jobID)
	body, err := r.do(statusCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var status jobs.StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w (body: %s)", err, jobs.Truncate(string(body), 200))
	}
	return &status, nil
}

// do sends one request. Non-2xx responses come back as *jobs.HTTPError.
func (r *RunPodRenderer) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &jobs.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
