// Package providers contains adapters for chat-completion APIs.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ahrav/go-appraise/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-appraise/internal/llm/errors"
	"github.com/ahrav/go-appraise/internal/llm/transport"
)

// ProviderOpenRouter is the adapter name used in logs, metrics and errors.
const ProviderOpenRouter = "openrouter"

// OpenRouterAdapter speaks the OpenAI-compatible chat/completions API that
// OpenRouter and most self-hosted gateways expose.
type OpenRouterAdapter struct {
	config configuration.ProviderConfig
}

// NewOpenRouterAdapter creates an adapter, defaulting the endpoint to OpenRouter.
func NewOpenRouterAdapter(cfg configuration.ProviderConfig) *OpenRouterAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = configuration.DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &OpenRouterAdapter{config: cfg}
}

// Name returns the provider name.
func (a *OpenRouterAdapter) Name() string { return ProviderOpenRouter }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// Build constructs the chat/completions HTTP request.
func (a *OpenRouterAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    make([]chatMessage, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for i, m := range req.Messages {
		body.Messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// Parse decodes a chat/completions response. OpenRouter can report upstream
// failures inside a 200 body, so the error object is checked on every status.
func (a *OpenRouterAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseError(httpResp, body)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrInvalidResponse, err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		code := codeString(resp.Error.Code)
		status := httpResp.StatusCode
		if n, err := strconv.Atoi(code); err == nil {
			status = n
		}
		return nil, &llmerrors.ProviderError{
			Provider:   ProviderOpenRouter,
			StatusCode: status,
			Message:    resp.Error.Message,
			Code:       code,
			Type:       classifyErrorType(status, code+" "+resp.Error.Type),
		}
	}
	if len(resp.Choices) == 0 {
		return nil, llmerrors.ErrEmptyCompletion
	}

	return &transport.Response{
		Content:           resp.Choices[0].Message.Content,
		Model:             resp.Model,
		FinishReason:      resp.Choices[0].FinishReason,
		ProviderRequestID: firstNonEmpty(resp.ID, httpResp.Header.Get("x-request-id")),
		Usage: transport.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func parseError(httpResp *http.Response, body []byte) error {
	retryAfter, _ := strconv.Atoi(httpResp.Header.Get("Retry-After"))

	var errResp struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		code := codeString(errResp.Error.Code)
		return &llmerrors.ProviderError{
			Provider:   ProviderOpenRouter,
			StatusCode: httpResp.StatusCode,
			Message:    errResp.Error.Message,
			Code:       code,
			Type:       classifyErrorType(httpResp.StatusCode, errResp.Error.Type),
			RetryAfter: retryAfter,
		}
	}

	return &llmerrors.ProviderError{
		Provider:   ProviderOpenRouter,
		StatusCode: httpResp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Type:       classifyErrorType(httpResp.StatusCode, ""),
		RetryAfter: retryAfter,
	}
}

// codeString normalizes error codes, which arrive as numbers or strings.
func codeString(code any) string {
	switch c := code.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.Itoa(int(c))
	default:
		return fmt.Sprint(c)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
