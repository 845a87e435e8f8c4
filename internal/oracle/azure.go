package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/config"
)

// Completer sends one prompt to a chat-completion backend and returns the raw
// content of its reply.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// AzureCompleter talks to an Azure OpenAI chat-completions deployment.
type AzureCompleter struct {
	endpoint   string
	deployment string
	apiVersion string
	apiKey     string
	httpClient *http.Client
}

// NewAzureCompleter creates an AzureCompleter. A nil httpClient uses
// http.DefaultClient; per-call deadlines come from the context.
func NewAzureCompleter(cfg config.OracleConfig, httpClient *http.Client) *AzureCompleter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AzureCompleter{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		deployment: cfg.Deployment,
		apiVersion: cfg.APIVersion,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer. Failures are returned as OracleErrors.
func (c *AzureCompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if c.endpoint == "" || c.deployment == "" || c.apiKey == "" {
		return "", apperrors.Oracle(apperrors.OracleUnavailable, errors.New("oracle credentials not configured"))
	}

	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", apperrors.Oracle(apperrors.OracleUnavailable, fmt.Errorf("failed to marshal request body: %w", err))
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, url.PathEscape(c.deployment), url.QueryEscape(c.apiVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Oracle(apperrors.OracleUnavailable, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", statusError(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperrors.Oracle(apperrors.OracleInvalidResponseShape, fmt.Errorf("failed to decode response body: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", apperrors.Oracle(apperrors.OracleInvalidResponseShape, errors.New("response has no choices"))
	}
	return decoded.Choices[0].Message.Content, nil
}

func statusError(code int, body string) error {
	err := fmt.Errorf("status code %d: %s", code, body)
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return apperrors.Oracle(apperrors.OracleTimeout, err)
	case code == http.StatusTooManyRequests:
		return apperrors.Oracle(apperrors.OracleRateLimited, err)
	default:
		return apperrors.Oracle(apperrors.OracleUnavailable, err)
	}
}
