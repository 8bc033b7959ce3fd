// Package client is a Go client for the mealclarify HTTP API, intended for
// chat transports that relay user messages to the clarification service.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	APIKey  string

	// Timeout bounds each request. Defaults to 90s since analysis calls
	// an external model.
	Timeout time.Duration

	// HTTPClient overrides the underlying client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to a mealclarify server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		apiKey:  cfg.APIKey,
		http:    hc,
	}, nil
}

type submissionBody struct {
	MediaType MediaType `json:"media_type"`
	Text      string    `json:"text,omitempty"`
	Data      string    `json:"data,omitempty"`
	Filename  string    `json:"filename,omitempty"`
}

// Submit sends a meal submission for userID. If the user is awaiting a
// clarification, the server treats it as the follow-up.
func (c *Client) Submit(ctx context.Context, userID string, s Submission) (*SubmitResult, error) {
	body := submissionBody{
		MediaType: s.MediaType,
		Text:      s.Text,
		Filename:  s.Filename,
	}
	if len(s.Data) > 0 {
		body.Data = base64.StdEncoding.EncodeToString(s.Data)
	}

	var out SubmitResult
	if err := c.do(ctx, http.MethodPost, userPath(userID, "submissions"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the user's pending clarification. A user with nothing
// pending yields an error matching ErrNoPending.
func (c *Client) Status(ctx context.Context, userID string) (*Clarification, error) {
	var out Clarification
	if err := c.do(ctx, http.MethodGet, userPath(userID, "clarification"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel drops the user's pending clarification and reports whether one
// existed.
func (c *Client) Cancel(ctx context.Context, userID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.do(ctx, http.MethodDelete, userPath(userID, "clarification"), nil, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// Sweep asks the server to remove expired clarifications. A zero maxAge
// uses the server's configured default.
func (c *Client) Sweep(ctx context.Context, maxAge time.Duration) (*SweepResult, error) {
	path := "/admin/sweep"
	if maxAge > 0 {
		path += "?max_age=" + url.QueryEscape(maxAge.String())
	}

	var out SweepResult
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the unauthenticated health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func userPath(userID, rest string) string {
	return "/users/" + url.PathEscape(userID) + "/" + rest
}

// do sends an authenticated request and decodes a 2xx JSON response into
// out. Non-2xx responses are returned as *Problem.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeProblem(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeProblem reads an RFC 7807 body, falling back to the status line
// when the body is not a problem document.
func decodeProblem(resp *http.Response) error {
	p := &Problem{}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, p); err != nil || p.Status == 0 {
		p = &Problem{
			Status: resp.StatusCode,
			Title:  http.StatusText(resp.StatusCode),
			Detail: strings.TrimSpace(string(data)),
		}
	}
	return p
}
