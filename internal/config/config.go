package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingest tool
type Config struct {
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Slack    SlackConfig    `yaml:"slack"`
}

// APIConfig holds WHO GHO OData API settings
type APIConfig struct {
	BaseURL             string `yaml:"base_url"`
	PageSize            int    `yaml:"page_size"`
	TimeoutSecs         int    `yaml:"timeout_secs"`
	IndicatorCodes      string `yaml:"indicator_codes"`       // comma-separated allow-list; empty = all
	SkipTransientErrors bool   `yaml:"skip_transient_errors"` // skip a partition instead of failing the run
	MaxRetries          int    `yaml:"max_retries"`
}

// DatabaseConfig holds analytics database connection settings.
// Either conn_string or the discrete fields may be used; conn_string wins.
type DatabaseConfig struct {
	ConnString string `yaml:"conn_string"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Database   string `yaml:"database"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	SSLMode    string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full (default: require)
	MaxConns   int    `yaml:"max_conns"`
}

// IngestConfig holds pipeline behavior settings
type IngestConfig struct {
	BatchSize    int    `yaml:"batch_size"`    // max rows per load transaction
	Workers      int    `yaml:"workers"`       // parallel partition workers
	DevRunLimit  int    `yaml:"dev_run_limit"` // cap on total fetched records; 0 = unlimited
	FullReingest bool   `yaml:"full_reingest"` // discard checkpoints and re-extract from the start
	DataDir      string `yaml:"data_dir"`      // run ledger location
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
// A .env file next to the working directory is loaded first so that
// ${VAR} references in the YAML can resolve to local secrets.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Best-effort .env load; absence is not an error
	_ = godotenv.Load()

	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for the run ledger.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".gho-ingest")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://ghoapi.azureedge.net/api"
	}
	if c.API.PageSize == 0 {
		c.API.PageSize = 100
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = 30
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = 3
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require" // Secure default
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 8
	}

	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = 500
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.DataDir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			c.Ingest.DataDir = dir
		} else {
			c.Ingest.DataDir = ".gho-ingest"
		}
	}
	c.Ingest.DataDir = expandTilde(c.Ingest.DataDir)
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("missing required field api.base_url")
	}
	if _, err := url.Parse(c.API.BaseURL); err != nil {
		return fmt.Errorf("invalid value for api.base_url: %w", err)
	}
	if c.API.PageSize < 1 {
		return fmt.Errorf("invalid value for api.page_size: must be >= 1")
	}
	if c.API.MaxRetries < 1 {
		return fmt.Errorf("invalid value for api.max_retries: must be >= 1")
	}
	if c.Database.ConnString == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("missing required field database.conn_string or database.host")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("missing required field database.database")
		}
		if c.Database.User == "" {
			return fmt.Errorf("missing required field database.user")
		}
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("invalid value for ingest.batch_size: must be >= 1")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("invalid value for ingest.workers: must be >= 1")
	}
	if c.Ingest.DevRunLimit < 0 {
		return fmt.Errorf("invalid value for ingest.dev_run_limit: must be >= 0")
	}
	return nil
}

// DSN returns the PostgreSQL connection string for the analytics database.
func (c *DatabaseConfig) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password),
		c.Host, c.Port, c.Database, c.SSLMode)
}

// IndicatorList parses the indicator allow-list into codes.
// An empty list means "ingest all indicators".
func (c *APIConfig) IndicatorList() []string {
	var codes []string
	for _, code := range strings.Split(c.IndicatorCodes, ",") {
		code = strings.TrimSpace(code)
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// Sanitized returns a copy safe for logging (credentials masked).
func (c *Config) Sanitized() *Config {
	clean := *c
	if clean.Database.Password != "" {
		clean.Database.Password = "****"
	}
	if clean.Database.ConnString != "" {
		clean.Database.ConnString = maskDSN(clean.Database.ConnString)
	}
	if clean.Slack.WebhookURL != "" {
		clean.Slack.WebhookURL = "****"
	}
	return &clean
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "****"
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
