// Package llmgateway implements the single entry point to the LLM
// providers used across the query pipeline: prompt
// assembly, JSON-mode enforcement and defensive parsing, the three-layer
// retry regime, and key rotation. Stages never talk to a provider
// directly — they only ever name a logical ModelTag.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
)

// binding is one model tag's resolved provider + credential + key pool.
type binding struct {
	provider config.ProviderType
	model    string
	impl     Provider
	keys     *keyPool
}

// Gateway is the single LLM access component. It is stateless from the
// core's point of view: its retry/backoff state is entirely internal, and
// key rotation is the only mutation, serialized inside each keyPool.
type Gateway struct {
	retry    config.RetryConfig
	bindings map[config.ModelTag]*binding
	clock    func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// New builds a Gateway from resolved model-tag credentials. providerFor
// lets callers (and tests) substitute a fake Provider per provider type.
func New(cfg *config.Config, providerFor func(config.ProviderType, config.ProviderCredential) Provider) (*Gateway, error) {
	if providerFor == nil {
		providerFor = defaultProviderFor
	}
	bindings := make(map[config.ModelTag]*binding, len(cfg.Models))
	for tag, cred := range cfg.Models {
		bindings[tag] = &binding{
			provider: cred.Provider,
			model:    cred.Model,
			impl:     providerFor(cred.Provider, cred),
			keys:     newKeyPool(cred.APIKeys),
		}
	}
	return &Gateway{
		retry:    cfg.Retry,
		bindings: bindings,
		clock:    time.Now,
		sleep:    ctxSleep,
	}, nil
}

func defaultProviderFor(p config.ProviderType, cred config.ProviderCredential) Provider {
	switch p {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cred.BaseURL, cred.Timeout)
	default:
		return NewAnthropicProvider(cred.BaseURL, cred.Timeout)
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CompleteText issues a non-JSON completion (used by Comment-Synthesis and
// the Language-Check translator). It applies only the client retry layer
// (layer 1); stages that need the stage-layer JSON retry call CompleteJSON.
func (g *Gateway) CompleteText(ctx context.Context, tag config.ModelTag, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	b, ok := g.bindings[tag]
	if !ok {
		return "", newError(KindPermanent, fmt.Sprintf("no model bound to tag %q", tag), nil)
	}
	return g.clientRetry(ctx, b, CompletionRequest{
		Model:        b.model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    maxTokens,
		JSONMode:     false,
	})
}

// CompleteJSON issues a JSON-mode completion and returns the parsed value.
// schemaHint is appended to the system prompt describing the expected
// shape; it's documentation for the model, not validated mechanically
// here — callers validate the parsed structure themselves.
func (g *Gateway) CompleteJSON(ctx context.Context, tag config.ModelTag, systemPrompt, userPrompt, schemaHint string, maxTokens int) (json.RawMessage, error) {
	b, ok := g.bindings[tag]
	if !ok {
		return nil, newError(KindPermanent, fmt.Sprintf("no model bound to tag %q", tag), nil)
	}
	if schemaHint != "" {
		systemPrompt = systemPrompt + "\n\nExpected JSON shape:\n" + schemaHint
	}

	raw, err := g.clientRetry(ctx, b, CompletionRequest{
		Model:        b.model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    maxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return nil, err
	}

	cleaned := stripJSONWrapping(raw)
	if !json.Valid([]byte(cleaned)) {
		return nil, newError(KindParse, "response was not valid JSON after defensive cleanup", fmt.Errorf("%s", truncate(cleaned, 200)))
	}
	return json.RawMessage(cleaned), nil
}

// clientRetry is retry layer 1: rate-limit and transient (timeout,
// network, 5xx) errors only, up to ClientMaxAttempts, randomized exponential backoff capped at
// ClientMaxDelay. Auth/400-class errors fail immediately. Key rotation
// happens here, on every rate-limit-class failure.
func (g *Gateway) clientRetry(ctx context.Context, b *binding, req CompletionRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.retry.ClientMaxAttempts; attempt++ {
		key, ok := b.keys.Take()
		if !ok {
			return "", newError(KindQuotaExhausted, "all api keys are quota-exhausted", lastErr)
		}
		req.APIKey = key

		text, err := b.impl.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var gErr *Error
		if !asError(err, &gErr) {
			return "", err
		}

		if gErr.Kind == KindRateLimit || gErr.Kind == KindQuotaExhausted {
			b.keys.Rotate(key)
		}
		if gErr.Kind == KindQuotaExhausted {
			b.keys.MarkQuotaExhausted(key, g.clock().Add(24*time.Hour))
		}
		if !gErr.Retryable() {
			return "", gErr
		}

		delay := g.backoffDelay(attempt)
		slog.Debug("llmgateway client retry", "attempt", attempt+1, "kind", gErr.Kind, "delay", delay)
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return "", newError(KindTransient, "cancelled during backoff", sleepErr)
		}
	}
	return "", newError(KindTransient, fmt.Sprintf("exhausted %d client retry attempts", g.retry.ClientMaxAttempts), lastErr)
}

func (g *Gateway) backoffDelay(attempt int) time.Duration {
	base := float64(g.retry.ClientBaseDelay)
	delay := base * math.Pow(g.retry.ClientMultiplier, float64(attempt))
	jitter := delay * 0.2 * rand.Float64()
	d := time.Duration(delay + jitter)
	if max := g.retry.ClientMaxDelay; d > max {
		d = max
	}
	return d
}

// stripJSONWrapping defends against (a) code-fenced JSON, (b) leading
// prose, (c) trailing commentary after the closing brace/bracket
// in strict JSON mode.
func stripJSONWrapping(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	startObj := strings.IndexByte(s, '{')
	startArr := strings.IndexByte(s, '[')
	start := -1
	var openCh, closeCh byte
	switch {
	case startObj == -1 && startArr == -1:
		return s
	case startArr == -1 || (startObj != -1 && startObj < startArr):
		start, openCh, closeCh = startObj, '{', '}'
	default:
		start, openCh, closeCh = startArr, '[', ']'
	}

	end := matchingBraceIndex(s, start, openCh, closeCh)
	if end == -1 {
		return s[start:]
	}
	return s[start : end+1]
}

// matchingBraceIndex finds the index of the brace/bracket that closes the
// one at openIdx, respecting string literals so braces inside JSON string
// values don't confuse the scan.
func matchingBraceIndex(s string, openIdx int, openCh, closeCh byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := openIdx; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
