// Package config loads and validates the daemon's on-disk JSON
// configuration, with an environment-variable overlay bound through
// viper so a deployment can override persisted fields without the
// daemon knowing anything about flag parsing.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	homeDir, _ = os.UserHomeDir()

	DefaultConfigPath  = filepath.Join(homeDir, ".syftbox", "config.json")
	DefaultDataDir     = filepath.Join(homeDir, "SyftBox")
	DefaultServerURL   = "https://sync.opensyftbox.dev"
	DefaultClientURL   = "http://localhost:7938"
	DefaultLogFilePath = filepath.Join(homeDir, ".syftbox", "logs", "syftboxd.log")
)

var (
	ErrInvalidEmail = errors.New("config: invalid email")
	ErrInvalidURL   = errors.New("config: invalid url")
)

// Config is the full set of daemon settings. AccessToken and Path are
// never persisted: the former is a live credential, the latter is where
// this instance was loaded from.
type Config struct {
	DataDir      string `json:"data_dir" mapstructure:"data_dir"`
	Email        string `json:"email" mapstructure:"email"`
	ServerURL    string `json:"server_url" mapstructure:"server_url"`
	ClientURL    string `json:"client_url,omitempty" mapstructure:"client_url"`
	ClientToken  string `json:"client_token,omitempty" mapstructure:"client_token"`
	AppsEnabled  bool   `json:"apps_enabled" mapstructure:"apps_enabled"`
	RefreshToken string `json:"refresh_token,omitempty" mapstructure:"refresh_token"`
	AccessToken  string `json:"-" mapstructure:"access_token"`
	Path         string `json:"-" mapstructure:"-"`
}

// LoadFromFile reads and validates a Config at path, applying the
// SYFTBOX_ env overlay on top of whatever was persisted.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(path, f)
}

// LoadFromReader parses r as a Config, stamping Path, then overlays
// environment variables bound via viper.
func LoadFromReader(path string, r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var cfg Config
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode: %w", err)
		}
	}
	cfg.Path = path

	applyEnvOverlay(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverlay binds SYFTBOX_* environment variables over the
// persisted fields via viper, without viper ever touching disk itself.
func applyEnvOverlay(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("syftbox")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{"data_dir", "email", "server_url", "client_url", "client_token", "refresh_token"} {
		_ = v.BindEnv(key)
	}

	if v.IsSet("data_dir") {
		cfg.DataDir = v.GetString("data_dir")
	}
	if v.IsSet("email") {
		cfg.Email = v.GetString("email")
	}
	if v.IsSet("server_url") {
		cfg.ServerURL = v.GetString("server_url")
	}
	if v.IsSet("client_url") {
		cfg.ClientURL = v.GetString("client_url")
	}
	if v.IsSet("client_token") {
		cfg.ClientToken = v.GetString("client_token")
	}
	if v.IsSet("refresh_token") {
		cfg.RefreshToken = v.GetString("refresh_token")
	}
}

// Save writes cfg back to its own Path, creating the parent directory if
// needed. AccessToken is never included since its json tag is "-".
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("config: ensure dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(c.Path, data, 0o600)
}

// Validate normalizes and checks required fields, defaulting Path/DataDir
// and lowercasing Email.
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.ClientURL == "" {
		c.ClientURL = DefaultClientURL
	}

	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("config: resolve data_dir: %w", err)
	}
	c.DataDir = abs

	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return ErrInvalidEmail
	}

	if !isValidURL(c.ServerURL) {
		return fmt.Errorf("server url: %w", ErrInvalidURL)
	}
	if !isValidURL(c.ClientURL) {
		return fmt.Errorf("client url: %w", ErrInvalidURL)
	}

	return nil
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// LogValue implements slog.LogValuer so a Config never leaks its tokens
// into a log line — only whether they're set.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("data_dir", c.DataDir),
		slog.String("email", c.Email),
		slog.String("server_url", c.ServerURL),
		slog.String("client_url", c.ClientURL),
		slog.Bool("apps_enabled", c.AppsEnabled),
		slog.Bool("refresh_token", c.RefreshToken != ""),
		slog.Bool("access_token", c.AccessToken != ""),
		slog.Bool("client_token", c.ClientToken != ""),
		slog.String("path", c.Path),
	)
}
