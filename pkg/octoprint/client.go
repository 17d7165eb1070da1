// Copyright 2024-2026 Aiku AI

// Package octoprint talks to the OctoPrint host: printer telemetry and
// webcam settings over the REST API, and lifecycle events over the push
// socket.
package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxResponseSize bounds how much of an API response is read (4 MB).
const maxResponseSize = 4 << 20

// Client is a minimal OctoPrint REST client authenticated with an API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a client for the OctoPrint instance at baseURL.
func NewClient(baseURL, apiKey string, log zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("octoprint: base URL is required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "octoprint").Logger(),
	}, nil
}

// BaseURL returns the instance URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-success response from OctoPrint.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("octoprint: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("octoprint: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("octoprint: failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	c.log.Trace().Str("method", method).Str("path", path).Msg("OctoPrint request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("octoprint: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("octoprint: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("octoprint: failed to parse %s response: %w", path, err)
	}
	return nil
}

// CurrentTemperatures returns the heater readings keyed by tool name and
// "bed". OctoPrint answers 409 while the printer is not operational.
func (c *Client) CurrentTemperatures(ctx context.Context) (map[string]Temperature, error) {
	var resp printerResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/printer?exclude=sd,state", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Temperature, nil
}

// CurrentData returns the current job and progress.
func (c *Client) CurrentData(ctx context.Context) (*CurrentData, error) {
	var resp CurrentData
	if err := c.doRequest(ctx, http.MethodGet, "/api/job", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WebcamSettings returns the global webcam settings together with the
// MultiCam profiles.
func (c *Client) WebcamSettings(ctx context.Context) (*WebcamSettings, error) {
	var resp settingsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/settings", nil, &resp); err != nil {
		return nil, err
	}
	settings := resp.Webcam
	settings.Profiles = resp.Plugins.MultiCam.Profiles
	return &settings, nil
}

// passiveLogin exchanges the API key for a session used to authenticate the
// push socket.
func (c *Client) passiveLogin(ctx context.Context) (*loginResponse, error) {
	var resp loginResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/login", map[string]any{"passive": true}, &resp); err != nil {
		return nil, err
	}
	if resp.Name == "" || resp.Session == "" {
		return nil, fmt.Errorf("octoprint: login response without session")
	}
	return &resp, nil
}
