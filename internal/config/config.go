package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/leadnexus/internal/apperr"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Google    GoogleConfig
	OpenAI    OpenAIConfig
	Ollama    OllamaConfig
	Fetch     FetchConfig
	Ingest    IngestConfig
	Memory    MemoryConfig
	Cache     CacheConfig
	Events    EventsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
	APIToken    string
}

// Addr is the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Driver      string // "sqlite" or "postgres"
	DataDir     string
	PostgresURL string
}

type LLMConfig struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

type EmbeddingConfig struct {
	Provider string
	Model    string
}

type GoogleConfig struct {
	APIKey string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
}

type FetchConfig struct {
	Provider         string // "firecrawl" or "direct"
	FirecrawlAPIKey  string
	FirecrawlBaseURL string
	Timeout          time.Duration
	BlockedHosts     []string
	RatePerSecond    float64
	// AllowPrivateNetworks disables the public-address check; for local development only.
	AllowPrivateNetworks bool
}

type IngestConfig struct {
	Concurrency int
	MultiLead   bool
	WorkerPoll  time.Duration
}

type MemoryConfig struct {
	Enabled bool
}

type CacheConfig struct {
	RedisAddr string
	TTL       time.Duration
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        4100,
			CORSOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-1.5-flash",
			Timeout:  30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "gemini",
			Model:    "text-embedding-004",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Fetch: FetchConfig{
			Provider:         "firecrawl",
			FirecrawlBaseURL: "https://api.firecrawl.dev",
			Timeout:          30 * time.Second,
			BlockedHosts:     []string{"localhost", "127.*", "10.*", "192.168.*", "169.254.*", "0.0.0.0", "::1", "*.internal", "*.local"},
			RatePerSecond:    2,
		},
		Ingest: IngestConfig{
			Concurrency: 3,
			WorkerPoll:  500 * time.Millisecond,
		},
		Memory: MemoryConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Events: EventsConfig{
			Exchange: "leadnexus.events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the YAML backend and LEADNEXUS_* environment
// variables, then verifies that every selected provider has its credential.
func Load() (Config, error) {
	cfg, err := LoadUnchecked()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnchecked is Load without credential validation. CLI commands that only
// talk to a running server use it.
func LoadUnchecked() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// Validate checks provider selections and the credentials they require.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return missing("database URL", "LEADNEXUS_DATABASE_URL")
		}
	default:
		return apperr.New(apperr.ValidationFailure, "unknown storage.driver %q: must be sqlite or postgres", c.Storage.Driver)
	}

	for _, p := range []struct{ key, provider string }{
		{"llm.provider", c.LLM.Provider},
		{"embedding.provider", c.Embedding.Provider},
	} {
		switch p.provider {
		case "gemini":
			if c.Google.APIKey == "" {
				return missing("Google API key", "LEADNEXUS_GOOGLE_API_KEY")
			}
		case "openai":
			if c.OpenAI.APIKey == "" {
				return missing("OpenAI API key", "LEADNEXUS_OPENAI_API_KEY")
			}
		case "ollama":
		default:
			return apperr.New(apperr.ValidationFailure, "unknown %s %q: must be gemini, openai or ollama", p.key, p.provider)
		}
	}

	switch c.Fetch.Provider {
	case "firecrawl":
		if c.Fetch.FirecrawlAPIKey == "" {
			return missing("Firecrawl API key", "LEADNEXUS_FIRECRAWL_API_KEY")
		}
	case "direct":
	default:
		return apperr.New(apperr.ValidationFailure, "unknown fetch.provider %q: must be firecrawl or direct", c.Fetch.Provider)
	}

	if c.Ingest.Concurrency < 1 {
		return apperr.New(apperr.ValidationFailure, "ingest.concurrency must be at least 1, got %d", c.Ingest.Concurrency)
	}
	return nil
}

func missing(what, env string) error {
	return apperr.New(apperr.ConfigurationMissing,
		"missing required config: %s. Set it via environment variable %s", what, env)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "leadnexus-data"
		}
	}
	return filepath.Join(dir, "leadnexus")
}

func configFilePath() string {
	if p := os.Getenv("LEADNEXUS_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "leadnexus", "config.yaml")
}
