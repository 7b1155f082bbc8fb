// Package vk implements the VK transport: the group API client, the callback
// webhook boundary, and the conversation adapter.
package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danpetrov/pandorabot/core/netutil"
)

const defaultEndpoint = "https://api.vk.com"

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	defaultResponseTimeout = 5 * time.Second
	defaultClientTimeout   = 30 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryBackoff    = 2 * time.Second
)

// ClientConfig holds what the client needs to call the VK API.
type ClientConfig struct {
	Token      string
	APIVersion string
	// Endpoint overrides the API base URL; empty selects the production API.
	Endpoint string
}

// Client calls the VK messages API. The underlying HTTP client is built
// lazily on first use and can be rebuilt explicitly with Renew, replacing
// the process-wide singleton connection the bot used to rely on.
type Client struct {
	cfg ClientConfig

	mu   sync.Mutex
	http *http.Client
}

// NewClient constructs a VK API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Client{cfg: cfg}
}

// Renew discards the current HTTP client so the next call builds a fresh one.
func (c *Client) Renew() {
	c.mu.Lock()
	c.http = nil
	c.mu.Unlock()
}

func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		c.http = buildHTTPClient()
	}
	return c.http
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

type sendResponse struct {
	Error *apiError `json:"error"`
}

// SendMessage delivers text to a user; keyboard is a serialized VK keyboard
// payload, empty to leave the current keyboard untouched.
func (c *Client) SendMessage(ctx context.Context, userID int64, message, keyboard string) error {
	form := url.Values{}
	form.Set("access_token", c.cfg.Token)
	form.Set("v", c.cfg.APIVersion)
	form.Set("user_id", strconv.FormatInt(userID, 10))
	form.Set("message", message)
	form.Set("random_id", strconv.FormatInt(1000000+rand.Int63n(998999999), 10))
	if keyboard != "" {
		form.Set("keyboard", keyboard)
	}

	endpoint := c.cfg.Endpoint + "/method/messages.send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("vk messages.send: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("vk messages.send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("vk messages.send status: %s", resp.Status)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("vk messages.send decode: %w", err)
	}
	if out.Error != nil {
		return fmt.Errorf("vk messages.send: api error %d: %s", out.Error.Code, out.Error.Message)
	}
	return nil
}

// buildHTTPClient returns an HTTP client tuned for VK API calls, retrying
// transient network failures at the transport level.
func buildHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: defaultResponseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	retry := &retryTransport{
		base:       transport,
		maxRetries: defaultRetryAttempts,
		backoff:    defaultRetryBackoff,
	}

	return &http.Client{
		Timeout:   defaultClientTimeout,
		Transport: retry,
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				currReq.Body = body
			} else if req.Body != nil {
				return nil, lastErr
			}
		}

		resp, err := base.RoundTrip(currReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := t.backoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
