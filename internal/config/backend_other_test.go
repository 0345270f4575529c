//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestYAMLBackend_NestedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  port: 5000
  h2c: true
ratelimit:
  window: 2m
anthropic:
  rps: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	b := openYAMLBackend(path)
	if port, ok, err := b.GetInt("server.port"); err != nil || !ok || port != 5000 {
		t.Errorf("server.port = %d, %v, %v", port, ok, err)
	}
	if v, ok, _ := b.GetString("ratelimit.window"); !ok || v != "2m" {
		t.Errorf("ratelimit.window = %q, %v", v, ok)
	}
	if v, _, _ := b.GetString("server.h2c"); v != "true" {
		t.Errorf("server.h2c = %q", v)
	}
	if v, _, _ := b.GetString("anthropic.rps"); v != "0.5" {
		t.Errorf("anthropic.rps = %q", v)
	}
	if _, ok, _ := b.GetString("server.missing"); ok {
		t.Error("missing key reported present")
	}
}

func TestYAMLBackend_SetWritesNestedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	b := openYAMLBackend(path)

	if err := b.SetInt("server.port", 4100); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if !strings.Contains(string(raw), "server:\n") || !strings.Contains(string(raw), "level: debug") {
		t.Errorf("config file = %q", raw)
	}

	reopened := openYAMLBackend(path)
	if port, _, _ := reopened.GetInt("server.port"); port != 4100 {
		t.Errorf("server.port after reopen = %d", port)
	}
	if err := reopened.Delete("log.level"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := openYAMLBackend(path).GetString("log.level"); ok {
		t.Error("deleted key still present")
	}
}

func TestYAMLBackend_InvalidFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := openYAMLBackend(path).GetString("server.port"); ok {
		t.Error("value read from invalid file")
	}
}

func TestSecretsFile_RoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet(keychainService, "anthropic_api_key"); err == nil {
		t.Error("expected error before any secret is stored")
	}
	if err := keychainSet(keychainService, "anthropic_api_key", "sk-ant-stored"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	got, err := keychainGet(keychainService, "anthropic_api_key")
	if err != nil || string(got) != "sk-ant-stored" {
		t.Errorf("keychainGet = %q, %v", got, err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v", info.Mode().Perm())
	}
}
