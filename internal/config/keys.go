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
	kDuration
)

const (
	secretService = "edgevec"
	tokenAccount  = "edgesql_token"
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
		key: "server.port", typ: kInt, env: "EDGEVEC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "EDGEVEC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "backend", typ: kString, env: "EDGEVEC_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend },
	},
	{
		key: "edgesql.base_url", typ: kString, env: "EDGEVEC_EDGESQL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.EdgeSQL.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.EdgeSQL.BaseURL },
	},
	{
		key: "edgesql.token", typ: kString, env: "EDGEVEC_EDGESQL_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.EdgeSQL.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.EdgeSQL.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EDGEVEC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "store.database", typ: kString, env: "EDGEVEC_STORE_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Store.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Database },
	},
	{
		key: "store.table", typ: kString, env: "EDGEVEC_STORE_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Store.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Table },
	},
	{
		key: "store.mode", typ: kString, env: "EDGEVEC_STORE_MODE",
		apply:   func(cfg *Config, v any) { cfg.Store.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Mode },
	},
	{
		key: "store.metadata_columns", typ: kString, env: "EDGEVEC_STORE_METADATA_COLUMNS",
		apply:   func(cfg *Config, v any) { cfg.Store.MetadataColumns = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.MetadataColumns },
	},
	{
		key: "store.max_batch_count", typ: kInt, env: "EDGEVEC_STORE_MAX_BATCH_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Store.MaxBatchCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Store.MaxBatchCount },
	},
	{
		key: "store.max_batch_bytes", typ: kInt, env: "EDGEVEC_STORE_MAX_BATCH_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Store.MaxBatchBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Store.MaxBatchBytes },
	},
	{
		key: "store.write_concurrency", typ: kInt, env: "EDGEVEC_STORE_WRITE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Store.WriteConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Store.WriteConcurrency },
	},
	{
		key: "store.ready_timeout", typ: kDuration, env: "EDGEVEC_STORE_READY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Store.ReadyTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Store.ReadyTimeout },
	},
	{
		key: "store.strict_search_errors", typ: kBool, env: "EDGEVEC_STORE_STRICT_SEARCH_ERRORS",
		apply:   func(cfg *Config, v any) { cfg.Store.StrictSearchErrors = v.(bool) },
		extract: func(cfg Config) any { return cfg.Store.StrictSearchErrors },
	},
	{
		key: "ollama.base_url", typ: kString, env: "EDGEVEC_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "EDGEVEC_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.embed_batch_size", typ: kInt, env: "EDGEVEC_OLLAMA_EMBED_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.BatchSize },
	},
	{
		key: "ollama.keep_alive", typ: kString, env: "EDGEVEC_OLLAMA_KEEP_ALIVE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.KeepAlive = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.KeepAlive },
	},
	{
		key: "engine.kind", typ: kString, env: "EDGEVEC_ENGINE_KIND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Kind = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Kind },
	},
	{
		key: "engine.mlx_base_url", typ: kString, env: "EDGEVEC_ENGINE_MLX_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.MLXBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.MLXBaseURL },
	},
}

// parse converts raw text to the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
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
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetBool(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			if pv, err := s.parse(v); err == nil {
				s.apply(cfg, pv)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
			}
		}
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
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
