// Package worker is the HTTP client for the external ai-coding-worker
// service. The worker's /execute endpoint answers with a server-sent-event
// stream; this package only opens the stream — decoding belongs to the relay.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GitHubBinding points an execution at a repository on behalf of the user.
type GitHubBinding struct {
	RepoURL     string `json:"repoUrl"`
	Branch      string `json:"branch,omitempty"`
	AccessToken string `json:"accessToken"`
}

// ExecuteRequest is the body of POST {worker}/execute.
type ExecuteRequest struct {
	// UserRequest is a plain string or an array of content blocks; the
	// worker accepts both, so it stays untyped here.
	UserRequest                   any            `json:"userRequest,omitempty"`
	CodingAssistantProvider       string         `json:"codingAssistantProvider"`
	CodingAssistantAuthentication string         `json:"codingAssistantAuthentication"`
	ResumeSessionID               string         `json:"resumeSessionId,omitempty"`
	GitHub                        *GitHubBinding `json:"github,omitempty"`
	AutoCommit                    bool           `json:"autoCommit,omitempty"`
}

// DefaultProvider is the only provider the worker currently supports.
const DefaultProvider = "ClaudeAgentSDK"

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// Streams run for as long as the agent works; no overall timeout.
		// Cancellation comes from the request context.
		HTTPClient: &http.Client{},
	}
}

// Execute opens the worker's SSE stream. On a non-2xx response the body is
// read (once, capped) and folded into the returned error; the caller never
// sees a half-open stream for a rejected request.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (io.ReadCloser, error) {
	if req.CodingAssistantProvider == "" {
		req.CodingAssistantProvider = DefaultProvider
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("worker request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg := readErrorBody(resp.Body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, msg)
	}
	return resp.Body, nil
}

// readErrorBody extracts a failure message from a rejected response. JSON
// bodies with an "error" field win; anything else is used verbatim.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 8*1024))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
