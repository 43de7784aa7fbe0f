package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Message is one prompt entry sent to the upstream model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UpstreamError is a non-success HTTP status from the model API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("openrouter: status %d", e.StatusCode)
	}
	return fmt.Sprintf("openrouter: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the OpenRouter chat-completion endpoint.
// The HTTP client carries no timeout of its own; callers bound the whole
// request (including body reads) through the context deadline.
type Client struct {
	BaseURL string
	SiteURL string
	AppName string
	Client  *http.Client
}

func NewClient(baseURL, siteURL, appName string) *Client {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &Client{
		BaseURL: baseURL,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{},
	}
}

// StreamCompletion opens a streaming chat completion and returns the
// response body. options is an opaque bag merged into the request
// top-level; it never overrides model/messages/stream.
func (c *Client) StreamCompletion(ctx context.Context, apiKey, model string, messages []Message, options json.RawMessage) (io.ReadCloser, error) {
	if c.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}

	body := map[string]any{}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &body); err != nil {
			return nil, fmt.Errorf("openrouter: bad options: %w", err)
		}
	}
	body["model"] = model
	body["messages"] = messages
	body["stream"] = true

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if c.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.SiteURL)
	}
	if c.AppName != "" {
		req.Header.Set("X-Title", c.AppName)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		_ = resp.Body.Close()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errBody)),
		}
	}
	if resp.Body == nil {
		return nil, errors.New("openrouter: empty response")
	}
	return resp.Body, nil
}
