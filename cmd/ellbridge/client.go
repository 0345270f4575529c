package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/ellbridge/internal/config"
)

// apiClient talks to a running `ellbridge serve` on loopback.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// serverError is a non-2xx reply, decoded from the error envelope when
// the server sent one.
type serverError struct {
	Status    int
	Message   string `json:"message"`
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	Remedy    string `json:"remedy"`
	ResetTime string `json:"resetTime"`
}

func (e *serverError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server returned %d: %s", e.Status, e.Message)
	if e.Remedy != "" {
		fmt.Fprintf(&b, " (%s)", e.Remedy)
	}
	if e.ResetTime != "" {
		fmt.Fprintf(&b, ", retry after %s", e.ResetTime)
	}
	return b.String()
}

// call sends in as the JSON body (nil for none) and decodes a successful
// reply into out (nil to discard it).
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is `ellbridge serve` running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var env struct {
			Error *serverError `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Error != nil && env.Error.Message != "" {
			env.Error.Status = resp.StatusCode
			return env.Error
		}
		return &serverError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) metrics(ctx context.Context) (serverMetrics, error) {
	var m serverMetrics
	err := c.call(ctx, http.MethodGet, "/api/metrics", nil, &m)
	return m, err
}
