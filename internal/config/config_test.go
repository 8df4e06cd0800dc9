package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromReaderAppliesDefaultsAndLowercasesEmail(t *testing.T) {
	body := `{"email":"Alice@Example.COM","data_dir":"/tmp/sb"}`
	cfg, err := LoadFromReader("/tmp/config.json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", cfg.Email)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Fatalf("expected default server url, got %q", cfg.ServerURL)
	}
	if cfg.ClientURL != DefaultClientURL {
		t.Fatalf("expected default client url, got %q", cfg.ClientURL)
	}
}

func TestValidateRejectsBadEmail(t *testing.T) {
	cfg := &Config{Email: "not-an-email", DataDir: t.TempDir()}
	if err := cfg.Validate(); err != ErrInvalidEmail {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestValidateRejectsSchemelessURL(t *testing.T) {
	cfg := &Config{Email: "a@b.com", DataDir: t.TempDir(), ServerURL: "not-a-url"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a schemeless server url")
	}
}

func TestEnvOverlayOverridesPersistedDataDir(t *testing.T) {
	t.Setenv("SYFTBOX_DATA_DIR", "/override/dir")
	body := `{"email":"a@b.com","data_dir":"/persisted/dir"}`
	cfg, err := LoadFromReader("/tmp/config.json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/override/dir" {
		t.Fatalf("expected env overlay to win, got %q", cfg.DataDir)
	}
}

func TestSaveNeverPersistsAccessToken(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Email: "a@b.com", DataDir: dir, ServerURL: DefaultServerURL, ClientURL: DefaultClientURL,
		Path: filepath.Join(dir, "config.json"), AccessToken: "super-secret",
	}
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "super-secret") {
		t.Fatalf("access token leaked into persisted config: %s", raw)
	}
}
