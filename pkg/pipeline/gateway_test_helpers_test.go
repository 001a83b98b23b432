package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
)

// stubProvider returns responses[i] (and errs[i], when set) for the i-th
// Complete call, repeating the last response if more calls arrive than
// responses given.
type stubProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (s *stubProvider) Complete(ctx context.Context, req llmgateway.CompletionRequest) (string, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.responses[i], err
}

func newTestGateway(t *testing.T, tag config.ModelTag, responses ...string) *llmgateway.Gateway {
	t.Helper()
	stub := &stubProvider{responses: responses}
	cfg := &config.Config{
		Models: map[config.ModelTag]config.ProviderCredential{
			tag: {Provider: config.ProviderAnthropic, Model: "test-model", APIKeys: []string{"key-1"}},
		},
		Retry: config.RetryConfig{},
	}
	cfg.SetDefaults()
	gw, err := llmgateway.New(cfg, func(config.ProviderType, config.ProviderCredential) llmgateway.Provider {
		return stub
	})
	if err != nil {
		t.Fatalf("llmgateway.New: %v", err)
	}
	return gw
}

func newTestGatewayWithErr(t *testing.T, tag config.ModelTag) *llmgateway.Gateway {
	t.Helper()
	stub := &stubProvider{responses: []string{""}, errs: []error{llmgateway.NewParseError("boom", nil)}}
	cfg := &config.Config{
		Models: map[config.ModelTag]config.ProviderCredential{
			tag: {Provider: config.ProviderAnthropic, Model: "test-model", APIKeys: []string{"key-1"}},
		},
	}
	cfg.SetDefaults()
	cfg.Retry.ClientMaxAttempts = 1
	gw, err := llmgateway.New(cfg, func(config.ProviderType, config.ProviderCredential) llmgateway.Provider {
		return stub
	})
	if err != nil {
		t.Fatalf("llmgateway.New: %v", err)
	}
	return gw
}

func newAllTagsGateway(t *testing.T, response string) *llmgateway.Gateway {
	t.Helper()
	stub := &stubProvider{responses: []string{response}}
	cfg := &config.Config{
		Models: map[config.ModelTag]config.ProviderCredential{
			config.ModelTagMap:           {Provider: config.ProviderAnthropic, Model: "m", APIKeys: []string{"k"}},
			config.ModelTagSynthesis:     {Provider: config.ProviderAnthropic, Model: "m", APIKeys: []string{"k"}},
			config.ModelTagAnalysis:      {Provider: config.ProviderAnthropic, Model: "m", APIKeys: []string{"k"}},
			config.ModelTagCommentGroups: {Provider: config.ProviderAnthropic, Model: "m", APIKeys: []string{"k"}},
			config.ModelTagMediumScoring: {Provider: config.ProviderAnthropic, Model: "m", APIKeys: []string{"k"}},
			config.ModelTagDrift:         {Provider: config.ProviderAnthropic, Model: "m", APIKeys: []string{"k"}},
		},
	}
	cfg.SetDefaults()
	gw, err := llmgateway.New(cfg, func(config.ProviderType, config.ProviderCredential) llmgateway.Provider {
		return stub
	})
	if err != nil {
		t.Fatalf("llmgateway.New: %v", err)
	}
	return gw
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
