package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads a YAML config file, layers ${VAR}-expanded environment
// overrides on top (keys upper-cased with "." replaced by "_", e.g.
// EXPERTPANEL_MAP_CHUNK_SIZE), applies defaults, and validates the
// result. This single-process engine skips the distributed-backend
// (consul/etcd/zookeeper) and hot-reload paths a long-lived server needs.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(""); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := expandEnvVarsInKoanf(k); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	if err := k.Load(env.ProviderWithValue("EXPERTPANEL_", ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	cfg := &Config{}
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envKeyMapper(rawKey, value string) (string, interface{}) {
	key := toKoanfKey(rawKey)
	return key, value
}

func toKoanfKey(rawKey string) string {
	out := make([]rune, 0, len(rawKey))
	for _, r := range rawKey {
		switch {
		case r == '_':
			out = append(out, '.')
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func expandEnvVarsInKoanf(k *koanf.Koanf) error {
	raw := k.Raw()
	expanded := expandEnvVarsInData(raw)
	m, ok := expanded.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after environment expansion")
	}
	return k.Load(confmap.Provider(m, "."), nil)
}

func expandEnvVarsInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		return ExpandEnvVars(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = expandEnvVarsInData(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = expandEnvVarsInData(val)
		}
		return out
	default:
		return v
	}
}
