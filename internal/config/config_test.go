package config

import (
	"os"
	"strings"
	"testing"
)

const minimalYAML = `
database:
  host: localhost
  database: analytics
  user: etl
  password: secret
`

func TestLoadBytesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("LoadBytes() error: %v", err)
	}

	if cfg.API.BaseURL != "https://ghoapi.azureedge.net/api" {
		t.Errorf("default base_url = %q", cfg.API.BaseURL)
	}
	if cfg.API.PageSize != 100 {
		t.Errorf("default page_size = %d, want 100", cfg.API.PageSize)
	}
	if cfg.API.MaxRetries != 3 {
		t.Errorf("default max_retries = %d, want 3", cfg.API.MaxRetries)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("default port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("default ssl_mode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Ingest.BatchSize != 500 {
		t.Errorf("default batch_size = %d, want 500", cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.Workers != 4 {
		t.Errorf("default workers = %d, want 4", cfg.Ingest.Workers)
	}
	if cfg.Ingest.DevRunLimit != 0 {
		t.Errorf("default dev_run_limit = %d, want 0", cfg.Ingest.DevRunLimit)
	}
	if cfg.Ingest.FullReingest {
		t.Error("full_reingest should default to false")
	}
}

func TestLoadBytesValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing database",
			yaml:    "api:\n  page_size: 50\n",
			wantErr: "database.conn_string or database.host",
		},
		{
			name:    "missing database name",
			yaml:    "database:\n  host: localhost\n  user: etl\n",
			wantErr: "database.database",
		},
		{
			name:    "negative dev limit",
			yaml:    minimalYAML + "ingest:\n  dev_run_limit: -5\n",
			wantErr: "dev_run_limit",
		},
		{
			name:    "bad page size",
			yaml:    minimalYAML + "api:\n  page_size: -1\n",
			wantErr: "page_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvExpansion(t *testing.T) {
	os.Setenv("GHO_TEST_DB_CONN", "postgres://etl:pw@db:5432/analytics?sslmode=disable")
	defer os.Unsetenv("GHO_TEST_DB_CONN")

	cfg, err := LoadBytes([]byte("database:\n  conn_string: ${GHO_TEST_DB_CONN}\n"))
	if err != nil {
		t.Fatalf("LoadBytes() error: %v", err)
	}
	if cfg.Database.DSN() != "postgres://etl:pw@db:5432/analytics?sslmode=disable" {
		t.Errorf("DSN() = %q", cfg.Database.DSN())
	}
}

func TestDSNEncoding(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"plain", "secret", ":secret@"},
		{"with at sign", "p@ss", ":p%40ss@"},
		{"with slash", "p/ss", ":p%2Fss@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := DatabaseConfig{
				Host: "localhost", Port: 5432, Database: "analytics",
				User: "etl", Password: tt.password, SSLMode: "require",
			}
			dsn := db.DSN()
			if !strings.Contains(dsn, tt.want) {
				t.Errorf("DSN %q missing encoded password fragment %q", dsn, tt.want)
			}
		})
	}
}

func TestIndicatorList(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"WHOSIS_000001", 1},
		{"WHOSIS_000001,LIFE_EXPECTANCY_0", 2},
		{" WHOSIS_000001 , ,LIFE_EXPECTANCY_0,", 2},
	}

	for _, tt := range tests {
		api := APIConfig{IndicatorCodes: tt.in}
		if got := len(api.IndicatorList()); got != tt.want {
			t.Errorf("IndicatorList(%q) len = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSanitized(t *testing.T) {
	cfg, err := LoadBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("LoadBytes() error: %v", err)
	}
	cfg.Slack.WebhookURL = "https://hooks.slack.com/services/T/B/X"

	clean := cfg.Sanitized()
	if clean.Database.Password != "****" {
		t.Errorf("password not masked: %q", clean.Database.Password)
	}
	if clean.Slack.WebhookURL != "****" {
		t.Errorf("webhook not masked: %q", clean.Slack.WebhookURL)
	}
	// Original untouched
	if cfg.Database.Password != "secret" {
		t.Error("Sanitized() mutated the original config")
	}
}
