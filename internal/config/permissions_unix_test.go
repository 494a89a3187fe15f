//go:build unix

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	warning := checkFilePermissions(path)
	if warning == "" {
		t.Fatal("world-readable config should produce a warning")
	}
	if !strings.Contains(warning, "Slack webhook") || !strings.Contains(warning, "chmod 600") {
		t.Errorf("warning should name what leaks and how to fix it: %q", warning)
	}

	if err := os.Chmod(path, 0600); err != nil {
		t.Fatal(err)
	}
	if warning := checkFilePermissions(path); warning != "" {
		t.Errorf("0600 config should not warn: %q", warning)
	}

	if warning := checkFilePermissions(filepath.Join(t.TempDir(), "missing.yaml")); warning != "" {
		t.Errorf("missing file should not warn: %q", warning)
	}
}
