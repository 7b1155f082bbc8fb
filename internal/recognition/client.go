// Package recognition is the boundary to the downstream service that turns a
// stored screenshot plus the collected answers into a result string.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Request carries everything the recognition service needs for one box.
type Request struct {
	ScreenshotPath string `json:"screenshot_path"`
	GuardNumber    string `json:"guard_number"`
	Town           string `json:"town"`
}

// Recognizer computes the final result for a completed conversation.
type Recognizer interface {
	Calculate(ctx context.Context, req Request) (string, error)
}

// HTTPClient calls the recognition service over HTTP.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient constructs a Recognizer posting to the given URL. The
// http.Client must carry a timeout; the caller owns that policy.
func NewHTTPClient(url string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{url: url, client: client}
}

type calculateResponse struct {
	Result string `json:"result"`
}

// Calculate sends the collected data and returns the service's result line.
func (c *HTTPClient) Calculate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("recognition request encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("recognition request build: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("recognition call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("recognition call status: %s", resp.Status)
	}

	var out calculateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("recognition response decode: %w", err)
	}
	return out.Result, nil
}
