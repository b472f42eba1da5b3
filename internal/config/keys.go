package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
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
		key: "server.host", typ: kString, env: "LEADNEXUS_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "LEADNEXUS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kList, env: "LEADNEXUS_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Server.CORSOrigins, ",") },
	},
	{
		key: "server.api_token", typ: kString, env: "LEADNEXUS_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.driver", typ: kString, env: "LEADNEXUS_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LEADNEXUS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_url", typ: kString, env: "LEADNEXUS_DATABASE_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresURL },
	},
	{
		key: "llm.provider", typ: kString, env: "LEADNEXUS_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "LEADNEXUS_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "LEADNEXUS_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "embedding.provider", typ: kString, env: "LEADNEXUS_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "LEADNEXUS_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "google.api_key", typ: kString, env: "LEADNEXUS_GOOGLE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Google.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Google.APIKey },
	},
	{
		key: "openai.api_key", typ: kString, env: "LEADNEXUS_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "LEADNEXUS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "ollama.base_url", typ: kString, env: "LEADNEXUS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "fetch.provider", typ: kString, env: "LEADNEXUS_FETCH_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Fetch.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Fetch.Provider },
	},
	{
		key: "fetch.firecrawl_api_key", typ: kString, env: "LEADNEXUS_FIRECRAWL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Fetch.FirecrawlAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Fetch.FirecrawlAPIKey },
	},
	{
		key: "fetch.firecrawl_base_url", typ: kString, env: "LEADNEXUS_FETCH_FIRECRAWL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Fetch.FirecrawlBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Fetch.FirecrawlBaseURL },
	},
	{
		key: "fetch.timeout", typ: kDuration, env: "LEADNEXUS_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Fetch.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Fetch.Timeout },
	},
	{
		key: "fetch.blocked_hosts", typ: kList, env: "LEADNEXUS_FETCH_BLOCKED_HOSTS",
		apply:   func(cfg *Config, v any) { cfg.Fetch.BlockedHosts = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Fetch.BlockedHosts, ",") },
	},
	{
		key: "fetch.rate_per_second", typ: kFloat, env: "LEADNEXUS_FETCH_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Fetch.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Fetch.RatePerSecond },
	},
	{
		key: "fetch.allow_private_networks", typ: kBool, env: "LEADNEXUS_FETCH_ALLOW_PRIVATE_NETWORKS",
		apply:   func(cfg *Config, v any) { cfg.Fetch.AllowPrivateNetworks = v.(bool) },
		extract: func(cfg Config) any { return cfg.Fetch.AllowPrivateNetworks },
	},
	{
		key: "ingest.concurrency", typ: kInt, env: "LEADNEXUS_INGEST_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Concurrency },
	},
	{
		key: "ingest.multi_lead", typ: kBool, env: "LEADNEXUS_INGEST_MULTI_LEAD",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MultiLead = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ingest.MultiLead },
	},
	{
		key: "ingest.worker_poll", typ: kDuration, env: "LEADNEXUS_INGEST_WORKER_POLL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.WorkerPoll = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.WorkerPoll },
	},
	{
		key: "memory.enabled", typ: kBool, env: "LEADNEXUS_MEMORY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Memory.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Memory.Enabled },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "LEADNEXUS_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "LEADNEXUS_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "events.amqp_url", typ: kString, env: "LEADNEXUS_EVENTS_AMQP_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Events.AMQPURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.AMQPURL },
	},
	{
		key: "events.exchange", typ: kString, env: "LEADNEXUS_EVENTS_EXCHANGE",
		apply:   func(cfg *Config, v any) { cfg.Events.Exchange = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.Exchange },
	},
	{
		key: "log.level", typ: kString, env: "LEADNEXUS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "LEADNEXUS_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
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

		v, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || v == "" {
			continue
		}
		parsed, err := parseValue(s.typ, v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
			continue
		}
		s.apply(cfg, parsed)
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
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}
