package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// HTTPClient implements Provider over the provider's REST API:
// POST {base}/generations and GET {base}/generations/{id}.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ Provider = (*HTTPClient)(nil)

type submitRequest struct {
	ToolType string          `json:"tool_type"`
	Input    json.RawMessage `json:"input"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

func (c *HTTPClient) Submit(ctx context.Context, toolType string, params json.RawMessage) (string, error) {
	body, err := json.Marshal(submitRequest{ToolType: toolType, Input: params})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("network error calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, readSnippet(resp.Body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty tracking id", ErrRejected)
	}
	return out.ID, nil
}

func (c *HTTPClient) Status(ctx context.Context, externalRef string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generations/"+url.PathEscape(externalRef), nil)
	if err != nil {
		return Status{}, fmt.Errorf("create status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("network error calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Status{State: StateFailed, Reason: "provider has no record of generation " + externalRef}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Status{}, fmt.Errorf("decode status response: %w", err)
	}
	switch State(out.Status) {
	case StateRunning, "queued", "pending":
		return Status{State: StateRunning}, nil
	case StateSucceeded:
		if out.OutputURL == "" {
			return Status{}, fmt.Errorf("provider reported success without output for %s", externalRef)
		}
		return Status{State: StateSucceeded, OutputRef: out.OutputURL}, nil
	case StateFailed:
		reason := out.Error
		if reason == "" {
			reason = "provider reported failure"
		}
		return Status{State: StateFailed, Reason: reason}, nil
	default:
		return Status{}, fmt.Errorf("unknown provider status %q", out.Status)
	}
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
