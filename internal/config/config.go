package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rohankatakam/contributors/internal/errors"
	"github.com/rohankatakam/contributors/internal/output"
)

// Token sources, in order of precedence
const (
	SourceEnvToken    = "env:token"
	SourceConfig      = "config"
	SourceEnvGitHub   = "env:GITHUB_TOKEN"
	SourceKeychain    = "keychain"
	SourceNone        = "none"
	DefaultOrg        = "Vanilla-OS"
	legacyTokenEnvVar = "token"
)

// Config holds all configuration settings
type Config struct {
	// Organization whose repositories are scanned
	Org string `yaml:"org" mapstructure:"org"`

	// Output file; empty means ../contributors.json next to the executable
	Output string `yaml:"output" mapstructure:"output"`
	Format string `yaml:"format" mapstructure:"format"`

	// Write the file even if some fetches failed
	AllowPartial bool `yaml:"allow_partial" mapstructure:"allow_partial"`

	GitHub GitHubConfig `yaml:"github" mapstructure:"github"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Cache  CacheConfig  `yaml:"cache" mapstructure:"cache"`

	// TokenSource records where GitHub.Token came from
	TokenSource string `yaml:"-" mapstructure:"-"`
}

type GitHubConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // Requests per second
}

type FetchConfig struct {
	Workers        int           `yaml:"workers" mapstructure:"workers"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
	Paginate       bool          `yaml:"paginate" mapstructure:"paginate"`
	PerPage        int           `yaml:"per_page" mapstructure:"per_page"`
	MaxPages       int           `yaml:"max_pages" mapstructure:"max_pages"`
}

type CacheConfig struct {
	Path string        `yaml:"path" mapstructure:"path"` // empty disables the profile cache
	TTL  time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// flagKeys maps command-line flag names to configuration keys
var flagKeys = map[string]string{
	"org":             "org",
	"output":          "output",
	"format":          "format",
	"allow-partial":   "allow_partial",
	"base-url":        "github.base_url",
	"rate-limit":      "github.rate_limit",
	"workers":         "fetch.workers",
	"request-timeout": "fetch.request_timeout",
	"run-timeout":     "fetch.run_timeout",
	"paginate":        "fetch.paginate",
	"per-page":        "fetch.per_page",
	"max-pages":       "fetch.max_pages",
	"cache-file":      "cache.path",
	"cache-ttl":       "cache.ttl",
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Org:    DefaultOrg,
		Format: "json",
		GitHub: GitHubConfig{
			BaseURL:   "https://api.github.com/",
			RateLimit: 10, // 10 requests per second
		},
		Fetch: FetchConfig{
			Workers:        4,
			RequestTimeout: 30 * time.Second,
			RunTimeout:     10 * time.Minute,
			Paginate:       true,
			PerPage:        100,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
	}
}

// Load reads configuration from .env files, the config file, CONTRIBUTORS_*
// environment variables and flags (highest precedence). flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("org", cfg.Org)
	v.SetDefault("output", cfg.Output)
	v.SetDefault("format", cfg.Format)
	v.SetDefault("allow_partial", cfg.AllowPartial)
	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", cfg.GitHub.BaseURL)
	v.SetDefault("github.rate_limit", cfg.GitHub.RateLimit)
	v.SetDefault("fetch.workers", cfg.Fetch.Workers)
	v.SetDefault("fetch.request_timeout", cfg.Fetch.RequestTimeout)
	v.SetDefault("fetch.run_timeout", cfg.Fetch.RunTimeout)
	v.SetDefault("fetch.paginate", cfg.Fetch.Paginate)
	v.SetDefault("fetch.per_page", cfg.Fetch.PerPage)
	v.SetDefault("fetch.max_pages", cfg.Fetch.MaxPages)
	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)

	// CONTRIBUTORS_FETCH_WORKERS, CONTRIBUTORS_GITHUB_BASE_URL, ...
	v.SetEnvPrefix("CONTRIBUTORS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", "CONTRIBUTORS_TOKEN", "CONTRIBUTORS_GITHUB_TOKEN"); err != nil {
		return nil, errors.ConfigErrorf("bind token env: %v", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.ConfigErrorf("bind flag --%s: %v", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".contributors")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".contributors"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ConfigErrorf("failed to read config: %v", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.ConfigErrorf("failed to unmarshal config: %v", err)
	}

	applyEnvOverrides(cfg)
	cfg.Cache.Path = expandPath(cfg.Cache.Path)
	cfg.Output = expandPath(cfg.Output)

	return cfg, nil
}

// loadEnvFiles loads .env files; earlier files win because godotenv never overrides
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		homeEnvFile := filepath.Join(homeDir, ".contributors", ".env")
		if _, err := os.Stat(homeEnvFile); err == nil {
			_ = godotenv.Load(homeEnvFile)
		}
	}
}

// applyEnvOverrides resolves the token from the environment.
// The legacy "token" variable beats everything; GITHUB_TOKEN only fills a gap.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv(legacyTokenEnvVar); token != "" {
		cfg.GitHub.Token = token
		cfg.TokenSource = SourceEnvToken
		return
	}
	if cfg.GitHub.Token != "" {
		cfg.TokenSource = SourceConfig
		return
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
		cfg.TokenSource = SourceEnvGitHub
		return
	}
	cfg.TokenSource = SourceNone
}

// ResolveKeychainToken fills the token from the OS keychain when no other source set it
func (c *Config) ResolveKeychainToken(km *KeyringManager) {
	if c.GitHub.Token != "" || km == nil || !DetectMode().UsesKeychain() {
		return
	}
	token, err := km.GetGitHubToken()
	if err != nil || token == "" {
		return
	}
	c.GitHub.Token = token
	c.TokenSource = SourceKeychain
}

// Validate checks the configuration before any request is made
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Org) == "" {
		return errors.ConfigError("organization must not be empty")
	}
	if _, err := output.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.Fetch.Workers < 1 {
		return errors.ConfigErrorf("workers must be at least 1, got %d", c.Fetch.Workers)
	}
	if c.Fetch.PerPage < 1 || c.Fetch.PerPage > 100 {
		return errors.ConfigErrorf("per_page must be between 1 and 100, got %d", c.Fetch.PerPage)
	}
	if c.Fetch.MaxPages < 0 {
		return errors.ConfigErrorf("max_pages must not be negative, got %d", c.Fetch.MaxPages)
	}
	if c.GitHub.RateLimit < 0 {
		return errors.ConfigErrorf("rate_limit must not be negative, got %v", c.GitHub.RateLimit)
	}
	if c.Fetch.RequestTimeout < 0 || c.Fetch.RunTimeout < 0 {
		return errors.ConfigError("timeouts must not be negative")
	}
	if c.GitHub.Token == "" {
		return errors.MissingCredentialError("no GitHub token found: " + DetectMode().CredentialHint())
	}
	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
