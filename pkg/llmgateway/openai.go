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

// OpenAIProvider implements Provider for OpenAI's Chat Completions API,
// using its native JSON-object response_format when JSONMode is set.
// Covers the text-only, single-turn completion shape this Gateway needs.
type OpenAIProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIProvider(baseURL string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIProvider{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

type openAIRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIMessage     `json:"messages"`
	MaxTokens      int                 `json:"max_tokens"`
	ResponseFormat *openAIRespFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRespFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := openAIRequest{
		Model: req.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens: req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &openAIRespFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", newError(KindPermanent, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", newError(KindPermanent, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

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
		return "", newError(kind, fmt.Sprintf("openai http %d", resp.StatusCode), fmt.Errorf("%s", string(raw)))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(KindParse, "failed to decode openai response", err)
	}
	if parsed.Error != nil {
		return "", newError(KindPermanent, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", newError(KindParse, "openai response had no choices", nil)
	}
	if parsed.Choices[0].FinishReason == "content_filter" {
		return "", newError(KindSafetyBlock, "openai refused the request on content-filter grounds", nil)
	}

	return parsed.Choices[0].Message.Content, nil
}
