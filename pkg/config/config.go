// Package config loads and validates the expert-panel query engine's
// configuration: LLM provider credentials and model-tag mappings, the
// Map/Medium-Rescue/Comment-Group tunables, per-expert timeouts, and the
// date-filter window.
package config

import (
	"fmt"
	"time"
)

// ModelTag is a logical name a stage asks the Gateway to resolve; stages
// never name a concrete provider/model directly.
type ModelTag string

const (
	ModelTagMap           ModelTag = "MAP"
	ModelTagSynthesis     ModelTag = "SYNTHESIS"
	ModelTagAnalysis      ModelTag = "ANALYSIS"
	ModelTagCommentGroups ModelTag = "COMMENT_GROUPS"
	ModelTagMediumScoring ModelTag = "MEDIUM_SCORING"
	ModelTagDrift         ModelTag = "DRIFT"
)

// ProviderType identifies the LLM provider backing a model tag.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
)

// ProviderCredential is one API key (or comma-separated rotation pool
// entry) plus its provider type and concrete model id.
type ProviderCredential struct {
	Provider ProviderType `koanf:"provider"`
	Model    string       `koanf:"model"`
	APIKeys  []string     `koanf:"api_keys"` // rotation pool; len==1 is the common case
	BaseURL  string       `koanf:"base_url"`
	Timeout  time.Duration `koanf:"timeout"`
}

// SetDefaults applies provider-appropriate defaults.
func (c *ProviderCredential) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ProviderAnthropic:
			c.BaseURL = "https://api.anthropic.com"
		case ProviderOpenAI:
			c.BaseURL = "https://api.openai.com"
		}
	}
}

// Validate checks the credential is well-formed.
func (c *ProviderCredential) Validate() error {
	if c.Provider != ProviderAnthropic && c.Provider != ProviderOpenAI {
		return fmt.Errorf("invalid provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required for provider %q", c.Provider)
	}
	if len(c.APIKeys) == 0 {
		return fmt.Errorf("at least one api key is required for provider %q", c.Provider)
	}
	return nil
}

// MapConfig tunes the Map stage.
type MapConfig struct {
	ChunkSize       int `koanf:"chunk_size"`
	Concurrency     int `koanf:"concurrency"`
	ChunkTokenBudget int `koanf:"chunk_token_budget"`
}

func (c *MapConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 100
	}
	if c.Concurrency == 0 {
		c.Concurrency = 25
	}
	if c.ChunkTokenBudget == 0 {
		c.ChunkTokenBudget = 12000
	}
}

// MediumRescueConfig tunes the Medium-Rescue stage.
type MediumRescueConfig struct {
	MaxCandidates int     `koanf:"max_candidates"`
	TopK          int     `koanf:"top_k"`
	Threshold     float64 `koanf:"threshold"`
}

func (c *MediumRescueConfig) SetDefaults() {
	if c.MaxCandidates == 0 {
		c.MaxCandidates = 50
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
}

// CommentGroupConfig tunes the Comment-Group stage.
type CommentGroupConfig struct {
	DriftChunkSize    int `koanf:"drift_chunk_size"`
	DriftConcurrency  int `koanf:"drift_concurrency"`
}

func (c *CommentGroupConfig) SetDefaults() {
	if c.DriftChunkSize == 0 {
		c.DriftChunkSize = 20
	}
	if c.DriftConcurrency == 0 {
		c.DriftConcurrency = 5
	}
}

// RetryConfig tunes the Gateway's three-layer retry regime.
type RetryConfig struct {
	ClientMaxAttempts int           `koanf:"client_max_attempts"`
	ClientBaseDelay   time.Duration `koanf:"client_base_delay"`
	ClientMaxDelay    time.Duration `koanf:"client_max_delay"`
	ClientMultiplier  float64       `koanf:"client_multiplier"`

	StageMaxAttempts int           `koanf:"stage_max_attempts"`
	StageMinDelay    time.Duration `koanf:"stage_min_delay"`
	StageMaxDelay    time.Duration `koanf:"stage_max_delay"`

	PipelineCooldown time.Duration `koanf:"pipeline_cooldown"`
}

func (c *RetryConfig) SetDefaults() {
	if c.ClientMaxAttempts == 0 {
		c.ClientMaxAttempts = 5
	}
	if c.ClientBaseDelay == 0 {
		c.ClientBaseDelay = 1 * time.Second
	}
	if c.ClientMaxDelay == 0 {
		c.ClientMaxDelay = 15 * time.Second
	}
	if c.ClientMultiplier == 0 {
		c.ClientMultiplier = 1.5
	}
	if c.StageMaxAttempts == 0 {
		c.StageMaxAttempts = 3
	}
	if c.StageMinDelay == 0 {
		c.StageMinDelay = 4 * time.Second
	}
	if c.StageMaxDelay == 0 {
		c.StageMaxDelay = 60 * time.Second
	}
	if c.PipelineCooldown == 0 {
		c.PipelineCooldown = 45 * time.Second
	}
}

// Config is the fully-resolved engine configuration.
type Config struct {
	LogLevel string `koanf:"log_level"`

	Models map[ModelTag]ProviderCredential `koanf:"models"`

	Map           MapConfig           `koanf:"map"`
	MediumRescue  MediumRescueConfig  `koanf:"medium_rescue"`
	CommentGroups CommentGroupConfig  `koanf:"comment_groups"`
	Retry         RetryConfig         `koanf:"retry"`

	PerExpertCeiling  time.Duration `koanf:"per_expert_ceiling"`
	RecentWindowMonths int          `koanf:"recent_window_months"`
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`

	Database DatabaseConfig `koanf:"database"`
}

// SetDefaults fills every unset tunable with the spec's documented default.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Map.SetDefaults()
	c.MediumRescue.SetDefaults()
	c.CommentGroups.SetDefaults()
	c.Retry.SetDefaults()
	if c.PerExpertCeiling == 0 {
		c.PerExpertCeiling = 180 * time.Second
	}
	if c.RecentWindowMonths == 0 {
		c.RecentWindowMonths = 3
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 5 * time.Second
	}
	for tag, cred := range c.Models {
		cred.SetDefaults()
		c.Models[tag] = cred
	}
	c.Database.SetDefaults()
}

// Validate checks the config is complete enough to run the pipeline.
func (c *Config) Validate() error {
	required := []ModelTag{
		ModelTagMap, ModelTagSynthesis, ModelTagAnalysis,
		ModelTagCommentGroups, ModelTagMediumScoring, ModelTagDrift,
	}
	for _, tag := range required {
		cred, ok := c.Models[tag]
		if !ok {
			return fmt.Errorf("missing model mapping for tag %q", tag)
		}
		if err := cred.Validate(); err != nil {
			return fmt.Errorf("model tag %q: %w", tag, err)
		}
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}
