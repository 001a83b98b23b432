package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AnthropicProvider implements Provider for Anthropic's Messages API.
// Covers the text-only, single-turn completion shape this Gateway needs.
type AnthropicProvider struct {
	apiKeyHeader string // "x-api-key"
	baseURL      string
	httpClient   *http.Client
}

func NewAnthropicProvider(baseURL string, timeout time.Duration) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		apiKeyHeader: "x-api-key",
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system := req.SystemPrompt
	if req.JSONMode {
		system += "\n\nRespond with a single JSON value matching the requested schema. " +
			"Do not wrap it in markdown code fences. Do not add commentary before or after it."
	}

	body := anthropicRequest{
		Model:     req.Model,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
		MaxTokens: req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", newError(KindPermanent, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", newError(KindPermanent, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set(p.apiKeyHeader, req.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", newError(KindTransient, "request cancelled", ctx.Err())
		}
		return "", newError(KindTransient, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newError(KindTransient, "failed to read response body", err)
	}

	if kind, ok := classifyStatus(resp.StatusCode); !ok {
		return "", newError(kind, fmt.Sprintf("anthropic http %d", resp.StatusCode), fmt.Errorf("%s", string(raw)))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(KindParse, "failed to decode anthropic response", err)
	}
	if parsed.Error != nil {
		return "", newError(KindPermanent, parsed.Error.Message, nil)
	}
	if parsed.StopReason == "refusal" {
		return "", newError(KindSafetyBlock, "anthropic refused the request on safety grounds", nil)
	}

	var text string
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return text, nil
}

// classifyStatus maps an HTTP status code to an ErrorKind. ok is false
// when the status is non-2xx (kind then names why).
func classifyStatus(status int) (ErrorKind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", true
	case status == http.StatusTooManyRequests:
		return KindRateLimit, false
	case status == http.StatusRequestTimeout, status == http.StatusServiceUnavailable,
		status == http.StatusBadGateway, status == http.StatusGatewayTimeout,
		status >= 500:
		return KindTransient, false
	default:
		return KindPermanent, false
	}
}
