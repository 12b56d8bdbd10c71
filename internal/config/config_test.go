package config

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/edgevec/internal/retrieval"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m mapBackend) GetBool(key string) (bool, bool, error) {
	v, ok := m[key]
	if !ok {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, errors.New("not a bool")
	}
	return b, true, nil
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m mapBackend) SetBool(key string, val bool) error { m[key] = val; return nil }
func (m mapBackend) Delete(key string) error { delete(m, key); return nil }

// clearEnv blanks every EDGEVEC_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendSQLite)
	}
	if cfg.Store.Database != "vectorstore" || cfg.Store.Table != "vectors" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.Mode != "hybrid" {
		t.Errorf("Store.Mode = %q, want hybrid", cfg.Store.Mode)
	}
	if cfg.Store.ReadyTimeout != 30*time.Second {
		t.Errorf("Store.ReadyTimeout = %v, want 30s", cfg.Store.ReadyTimeout)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := mapBackend{
		"server.port":                5000,
		"store.table":                "chunks",
		"store.mode":                 "vector",
		"store.max_batch_count":      10,
		"store.ready_timeout":        "5s",
		"store.strict_search_errors": true,
		"store.metadata_columns":     "topic,lang",
		"ollama.embed_model":         "mxbai-embed-large",
	}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Store.Table != "chunks" || cfg.Store.Mode != "vector" || cfg.Store.MaxBatchCount != 10 {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.ReadyTimeout != 5*time.Second || !cfg.Store.StrictSearchErrors {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Ollama.EmbedModel != "mxbai-embed-large" {
		t.Errorf("Ollama.EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
}

func TestBackendBadValueKeepsDefault(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{"store.ready_timeout": "soon"}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.ReadyTimeout != 30*time.Second {
		t.Errorf("ReadyTimeout = %v, want default", cfg.Store.ReadyTimeout)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("EDGEVEC_STORE_TABLE", "env_table")
	t.Setenv("EDGEVEC_STORE_WRITE_CONCURRENCY", "4")
	t.Setenv("EDGEVEC_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(mapBackend{"store.table": "file_table"}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Table != "env_table" {
		t.Errorf("Store.Table = %q, want env_table", cfg.Store.Table)
	}
	if cfg.Store.WriteConcurrency != 4 {
		t.Errorf("Store.WriteConcurrency = %d, want 4", cfg.Store.WriteConcurrency)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("unparseable env should keep default port, got %d", cfg.Server.Port)
	}
}

func TestEdgeSQLRequiresToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("EDGEVEC_BACKEND", "edgesql")

	_, err := loadWith(mapBackend{}, mockKeychain{err: errors.New("not found")})
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
	if !strings.Contains(err.Error(), "EDGEVEC_EDGESQL_TOKEN") {
		t.Errorf("error should name the env var: %v", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{"backend": "edgesql"}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EdgeSQL.Token != "keychain-secret" {
		t.Errorf("Token = %q, want keychain-secret", cfg.EdgeSQL.Token)
	}
}

func TestEnvTokenWinsOverKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("EDGEVEC_BACKEND", "edgesql")
	t.Setenv("EDGEVEC_EDGESQL_TOKEN", "env-token")

	cfg, err := loadWith(mapBackend{}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EdgeSQL.Token != "env-token" {
		t.Errorf("Token = %q, want env-token", cfg.EdgeSQL.Token)
	}
}

func TestSecretNotReadFromBackend(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(mapBackend{"backend": "edgesql", "edgesql.token": "plain"}, mockKeychain{})
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, token must not come from the plain backend", err)
	}
}

func TestInvalidValues(t *testing.T) {
	clearEnv(t)

	if _, err := loadWith(mapBackend{"backend": "postgres"}, mockKeychain{}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := loadWith(mapBackend{"store.mode": "keyword"}, mockKeychain{}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestStoreConfig(t *testing.T) {
	cfg := defaults()
	cfg.Store.MetadataColumns = " topic, lang ,,"
	cfg.Store.StrictSearchErrors = true

	sc := cfg.StoreConfig()
	if !slices.Equal(sc.MetadataColumns, []string{"topic", "lang"}) {
		t.Errorf("MetadataColumns = %q", sc.MetadataColumns)
	}
	if sc.Mode != retrieval.ModeHybrid || sc.Table != "vectors" || !sc.StrictSearchErrors {
		t.Errorf("StoreConfig = %+v", sc)
	}
	if sc.UseVectorIndex {
		t.Error("local backend must not use the vector index")
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("derived config invalid: %v", err)
	}

	cfg.Backend = BackendEdgeSQL
	cfg.Store.MetadataColumns = ""
	sc = cfg.StoreConfig()
	if !sc.UseVectorIndex || sc.Expanded() {
		t.Errorf("edge SQL StoreConfig = %+v", sc)
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	b := mapBackend{}

	if err := setKeyWith(b, "store.max_batch_count", "50"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if b["store.max_batch_count"] != 50 {
		t.Errorf("stored %v, want int 50", b["store.max_batch_count"])
	}
	if err := setKeyWith(b, "store.ready_timeout", "1m"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if b["store.ready_timeout"] != "1m" {
		t.Errorf("stored %v, want 1m", b["store.ready_timeout"])
	}
	if err := setKeyWith(b, "store.strict_search_errors", "true"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if b["store.strict_search_errors"] != true {
		t.Errorf("stored %v, want bool true", b["store.strict_search_errors"])
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Store.MaxBatchCount != 50 || cfg.Store.ReadyTimeout != time.Minute || !cfg.Store.StrictSearchErrors {
		t.Errorf("stored keys not applied: %+v", cfg.Store)
	}

	for _, tc := range []struct{ key, value string }{
		{"store.max_batch_count", "many"},
		{"store.strict_search_errors", "perhaps"},
		{"edgesql.token", "secret"},
		{"no.such.key", "x"},
	} {
		if err := setKeyWith(b, tc.key, tc.value); err == nil {
			t.Errorf("setKeyWith(%q, %q) succeeded, want error", tc.key, tc.value)
		}
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	b := mapBackend{"store.table": "notes"}

	if err := unsetKeyWith(b, "store.table"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Store.Table != "vectors" {
		t.Errorf("Store.Table = %q, want default after unset", cfg.Store.Table)
	}

	if err := unsetKeyWith(b, "edgesql.token"); err == nil {
		t.Error("unsetting a secret should fail")
	}
	if err := unsetKeyWith(b, "no.such.key"); err == nil {
		t.Error("unsetting an unknown key should fail")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.EdgeSQL.Token = "super-secret"

	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "super-secret") {
			t.Errorf("%s leaks the token", info.Key)
		}
		if info.Key == "edgesql.token" && info.Value != "(set)" {
			t.Errorf("edgesql.token = %q, want (set)", info.Value)
		}
	}
	if slices.Contains(ValidKeys(), "edgesql.token") {
		t.Error("ValidKeys lists a secret")
	}
}

func TestOllamaTuning(t *testing.T) {
	clearEnv(t)
	t.Setenv("EDGEVEC_OLLAMA_KEEP_ALIVE", "30m")

	cfg, err := loadWith(mapBackend{"ollama.embed_batch_size": 16}, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Ollama.BatchSize != 16 || cfg.Ollama.KeepAlive != "30m" {
		t.Errorf("Ollama = %+v", cfg.Ollama)
	}
}
