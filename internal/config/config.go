package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/edgevec/internal/ollama"
	"github.com/kalambet/edgevec/internal/retrieval"
)

// Database backends.
const (
	BackendSQLite  = "sqlite"
	BackendEdgeSQL = "edgesql"
)

// ErrMissingToken is returned by Load when the edge SQL backend is selected
// and no API token was found.
var ErrMissingToken = errors.New("missing required config: edge SQL API token")

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Backend string
	EdgeSQL EdgeSQLConfig
	Storage StorageConfig
	Store   StoreSettings
	Ollama  OllamaConfig
	Engine  EngineConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type EdgeSQLConfig struct {
	BaseURL string
	Token   string
}

type StorageConfig struct {
	DataDir string
}

// StoreSettings mirrors retrieval.Config in its configurable form.
type StoreSettings struct {
	Database           string
	Table              string
	Mode               string
	MetadataColumns    string
	MaxBatchCount      int
	MaxBatchBytes      int
	WriteConcurrency   int
	ReadyTimeout       time.Duration
	StrictSearchErrors bool
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	BatchSize  int
	KeepAlive  string
}

type EngineConfig struct {
	Kind       string
	MLXBaseURL string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Backend: BackendSQLite,
		EdgeSQL: EdgeSQLConfig{
			BaseURL: "https://api.azion.com/v4/edge_sql",
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Store: StoreSettings{
			Database:         "vectorstore",
			Table:            "vectors",
			Mode:             string(retrieval.ModeHybrid),
			MaxBatchCount:    retrieval.DefaultMaxBatchCount,
			MaxBatchBytes:    retrieval.DefaultMaxBatchBytes,
			WriteConcurrency: 1,
			ReadyTimeout:     retrieval.DefaultReadyTimeout,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			BatchSize:  ollama.DefaultBatchSize,
		},
		Engine: EngineConfig{
			Kind:       "ollama",
			MLXBaseURL: "http://localhost:8080",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.edgevec.app) and the
// API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/edgevec/config.json
// and the token falls back to a secrets file under $XDG_DATA_HOME/edgevec.
//
// Environment variables (EDGEVEC_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	switch cfg.Backend {
	case BackendSQLite:
	case BackendEdgeSQL:
		if cfg.EdgeSQL.Token == "" {
			if token, err := kc.Get(secretService, tokenAccount); err == nil && token != "" {
				cfg.EdgeSQL.Token = token
			}
		}
		if cfg.EdgeSQL.Token == "" {
			return Config{}, fmt.Errorf("%w. Set it via environment variable EDGEVEC_EDGESQL_TOKEN%s",
				ErrMissingToken, tokenHint())
		}
	default:
		return Config{}, fmt.Errorf("unknown backend %q (want %s or %s)", cfg.Backend, BackendSQLite, BackendEdgeSQL)
	}

	if _, err := retrieval.ParseMode(cfg.Store.Mode); err != nil {
		return Config{}, fmt.Errorf("store.mode: %w", err)
	}

	return cfg, nil
}

// StoreConfig derives the retrieval configuration. The local backend has no
// vector_top_k, so the index path is only enabled for edge SQL.
func (c Config) StoreConfig() retrieval.Config {
	var cols []string
	for _, col := range strings.Split(c.Store.MetadataColumns, ",") {
		if col = strings.TrimSpace(col); col != "" {
			cols = append(cols, col)
		}
	}
	return retrieval.Config{
		Database:           c.Store.Database,
		Table:              c.Store.Table,
		Mode:               retrieval.Mode(c.Store.Mode),
		MetadataColumns:    cols,
		UseVectorIndex:     c.Backend == BackendEdgeSQL,
		MaxBatchCount:      c.Store.MaxBatchCount,
		MaxBatchBytes:      c.Store.MaxBatchBytes,
		WriteConcurrency:   c.Store.WriteConcurrency,
		ReadyTimeout:       c.Store.ReadyTimeout,
		StrictSearchErrors: c.Store.StrictSearchErrors,
	}
}

// keychainReader reads from macOS Keychain via the security CLI, or from
// the secrets file elsewhere.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
