package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.h2c", typ: kBool, env: "ELLBRIDGE_SERVER_H2C",
		apply:   func(cfg *Config, v any) { cfg.Server.H2C = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.H2C },
	},
	{
		key: "server.max_body_bytes", typ: kInt, env: "ELLBRIDGE_SERVER_MAX_BODY_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxBodyBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxBodyBytes },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "CLAUDE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "anthropic.base_url", typ: kString, env: "ELLBRIDGE_ANTHROPIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.BaseURL },
	},
	{
		key: "anthropic.model", typ: kString, env: "ELLBRIDGE_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.Model },
	},
	{
		key: "anthropic.rps", typ: kFloat, env: "ELLBRIDGE_ANTHROPIC_RPS",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.RPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Anthropic.RPS },
	},
	{
		key: "openai.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "ELLBRIDGE_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "ELLBRIDGE_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.image_model", typ: kString, env: "ELLBRIDGE_OPENAI_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ImageModel },
	},
	{
		key: "openai.rps", typ: kFloat, env: "ELLBRIDGE_OPENAI_RPS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.RPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.OpenAI.RPS },
	},
	{
		key: "ratelimit.max_requests", typ: kInt, env: "ELLBRIDGE_RATELIMIT_MAX_REQUESTS",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.MaxRequests = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.MaxRequests },
	},
	{
		key: "ratelimit.window", typ: kDuration, env: "ELLBRIDGE_RATELIMIT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.RateLimit.Window },
	},
	{
		key: "ratelimit.unidentified", typ: kString, env: "ELLBRIDGE_RATELIMIT_UNIDENTIFIED",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Unidentified = v.(string) },
		extract: func(cfg Config) any { return cfg.RateLimit.Unidentified },
	},
	{
		key: "dispatch.reroute_above_tokens", typ: kInt, env: "ELLBRIDGE_DISPATCH_REROUTE_ABOVE_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Dispatch.RerouteAboveTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Dispatch.RerouteAboveTokens },
	},
	{
		key: "dispatch.default_max_tokens", typ: kInt, env: "ELLBRIDGE_DISPATCH_DEFAULT_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Dispatch.DefaultMaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Dispatch.DefaultMaxTokens },
	},
	{
		key: "fallback.enabled", typ: kBool, env: "ELLBRIDGE_FALLBACK_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Dispatch.Fallback = v.(bool) },
		extract: func(cfg Config) any { return cfg.Dispatch.Fallback },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ELLBRIDGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.persist", typ: kBool, env: "ELLBRIDGE_STORAGE_PERSIST",
		apply:   func(cfg *Config, v any) { cfg.Storage.Persist = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.Persist },
	},
	{
		key: "log.level", typ: kString, env: "ELLBRIDGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "errlog.path", typ: kString, env: "ELLBRIDGE_ERRLOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.ErrLog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.ErrLog.Path },
	},
}

// parse converts raw into the Go value for typ.
func parse(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
