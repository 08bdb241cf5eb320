package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/alexjbarnes/blog-client/blogapi"
	"github.com/alexjbarnes/blog-client/internal/state"
)

// Config holds all environment-based configuration for the blog client.
type Config struct {
	// APIURL is the base every endpoint is resolved against.
	APIURL string `env:"BLOG_API_URL" envDefault:"http://localhost:80/api/v1"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL"`

	// StatePath is the bbolt file holding the session. Defaults to
	// ~/.blog-client/state.db.
	StatePath string `env:"BLOG_STATE_PATH"`

	// CredentialsKey, when set, encrypts the stored session at rest.
	CredentialsKey string `env:"BLOG_CREDENTIALS_KEY"`

	// ValkeyAddr switches the session store from the local file to Valkey.
	ValkeyAddr   string `env:"BLOG_VALKEY_ADDR"`
	ValkeyPrefix string `env:"BLOG_VALKEY_PREFIX" envDefault:"blog"`

	HTTPTimeout time.Duration `env:"BLOG_HTTP_TIMEOUT" envDefault:"30s"`

	// DedupeRefresh makes concurrent 401s share one refresh call.
	DedupeRefresh bool `env:"BLOG_DEDUPE_REFRESH" envDefault:"false"`

	// LoginURL is where the user is sent once the session has expired.
	LoginURL string `env:"BLOG_LOGIN_URL" envDefault:"/login"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if cfg.StatePath == "" && cfg.ValkeyAddr == "" {
		path, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BLOG_API_URL must be an absolute http or https URL, got %q", c.APIURL)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	if c.HTTPTimeout < 0 {
		return fmt.Errorf("BLOG_HTTP_TIMEOUT must not be negative")
	}

	if c.ValkeyAddr != "" && c.CredentialsKey != "" {
		return fmt.Errorf("BLOG_CREDENTIALS_KEY is only supported with the local state file, unset BLOG_VALKEY_ADDR")
	}

	if c.LoginURL == "" {
		return fmt.Errorf("BLOG_LOGIN_URL must not be empty")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ClientConfig maps the settings onto a blogapi.Config. The store, transport
// and session-expired hook are left for the caller to fill in.
func (c *Config) ClientConfig() blogapi.Config {
	return blogapi.Config{
		BaseURL:       c.APIURL,
		DedupeRefresh: c.DedupeRefresh,
	}
}
