//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgevec", "config.json")

	b := newFileBackend(path)
	if err := b.SetString("store.table", "notes"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	reloaded := newFileBackend(path)
	if v, ok, _ := reloaded.GetString("store.table"); !ok || v != "notes" {
		t.Errorf("store.table = %q, %v", v, ok)
	}
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 4200 {
		t.Errorf("server.port = %d, %v, %v", v, ok, err)
	}

	if err := reloaded.Delete("store.table"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newFileBackend(path).GetString("store.table"); ok {
		t.Error("deleted key still present")
	}
}

func TestFileBackendRejectsFractionalInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server.port": 4100.5}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := newFileBackend(path).GetInt("server.port"); err == nil {
		t.Error("expected error for fractional port")
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainExec(secretService, tokenAccount); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := SetToken("tok-123"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	got, err := keychainReader{}.Get(secretService, tokenAccount)
	if err != nil || got != "tok-123" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func TestFileBackendBools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"a": true, "b": "false", "c": "maybe", "d": 3}`), 0o600); err != nil {
		t.Fatal(err)
	}
	b := newFileBackend(path)

	if v, ok, err := b.GetBool("a"); err != nil || !ok || !v {
		t.Errorf("a = %v, %v, %v", v, ok, err)
	}
	if v, ok, err := b.GetBool("b"); err != nil || !ok || v {
		t.Errorf("b = %v, %v, %v", v, ok, err)
	}
	for _, key := range []string{"c", "d"} {
		if _, _, err := b.GetBool(key); err == nil {
			t.Errorf("%s: expected error", key)
		}
	}
	if _, ok, err := b.GetBool("missing"); ok || err != nil {
		t.Errorf("missing key: ok=%v err=%v", ok, err)
	}

	if err := b.SetBool("store.strict_search_errors", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	if v, ok, _ := newFileBackend(path).GetBool("store.strict_search_errors"); !ok || !v {
		t.Error("bool did not survive a reload")
	}
}

func TestClearToken(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := ClearToken(); err != nil {
		t.Fatalf("ClearToken without a secrets file: %v", err)
	}
	if err := SetToken("tok-123"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if _, err := keychainExec(secretService, tokenAccount); err == nil {
		t.Error("token still readable after ClearToken")
	}
}
