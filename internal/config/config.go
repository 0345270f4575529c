package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Anthropic BackendConfig
	OpenAI    BackendConfig
	RateLimit RateLimitConfig
	Dispatch  DispatchConfig
	Storage   StorageConfig
	Log       LogConfig
	ErrLog    ErrLogConfig
}

type ServerConfig struct {
	Port         int
	H2C          bool
	MaxBodyBytes int
}

type BackendConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	// RPS paces outbound calls; zero disables pacing.
	RPS float64
}

type RateLimitConfig struct {
	MaxRequests  int
	Window       time.Duration
	Unidentified string
}

type DispatchConfig struct {
	RerouteAboveTokens int
	DefaultMaxTokens   int
	Fallback           bool
}

type StorageConfig struct {
	DataDir string
	Persist bool
}

type LogConfig struct {
	Level string
}

type ErrLogConfig struct {
	// Path defaults to client-errors.log in the data directory.
	Path string
}

// ErrLogPath returns the resolved error-report file path.
func (c Config) ErrLogPath() string {
	if c.ErrLog.Path != "" {
		return c.ErrLog.Path
	}
	return filepath.Join(c.Storage.DataDir, "client-errors.log")
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:         3001,
			MaxBodyBytes: 15 << 20,
		},
		Anthropic: BackendConfig{
			BaseURL: "https://api.anthropic.com",
			Model:   "claude-3-5-sonnet-20241022",
		},
		OpenAI: BackendConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o",
			ImageModel: "dall-e-3",
		},
		RateLimit: RateLimitConfig{
			MaxRequests:  5,
			Window:       60 * time.Second,
			Unidentified: "share",
		},
		Dispatch: DispatchConfig{
			RerouteAboveTokens: 8192,
			DefaultMaxTokens:   4000,
			Fallback:           true,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			Persist: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.ellbridge.app) and
// API keys fall back to the macOS Keychain.
// Elsewhere the backend is a YAML file at $XDG_CONFIG_HOME/ellbridge/config.yaml
// and API keys fall back to $XDG_DATA_HOME/ellbridge/secrets.yaml.
//
// Environment variables override backend values on all platforms. A .env
// file in the working directory fills in variables that are not already
// set. A missing API key is not an error here; calls to that backend fail
// instead.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

// loadDotEnv copies KEY=VALUE pairs from path into unset or empty
// environment variables. A missing file is ignored.
func loadDotEnv(path string) error {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for k, v := range vals {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
	return nil
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "ellbridge"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Anthropic.APIKey == "" {
		if key, err := kc.Get(keychainService, "anthropic_api_key"); err == nil {
			cfg.Anthropic.APIKey = key
		}
	}
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get(keychainService, "openai_api_key"); err == nil {
			cfg.OpenAI.APIKey = key
		}
	}

	return cfg, nil
}

// MissingCredentials lists the backends that have no API key.
func (c Config) MissingCredentials() []string {
	var missing []string
	if c.Anthropic.APIKey == "" {
		missing = append(missing, "anthropic (CLAUDE_API_KEY"+apiKeyHint("anthropic_api_key")+")")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "openai (OPENAI_API_KEY"+apiKeyHint("openai_api_key")+")")
	}
	return missing
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
