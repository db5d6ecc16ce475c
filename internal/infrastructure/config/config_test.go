package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "config.yaml")

	yaml := `
gitlab:
  base_url: https://example.com/
  token: token-yaml
  timeout: 5s

database:
  dsn: postgres://yaml@localhost/ci

redis:
  url: redis://localhost:6379/0
  block_timeout: 2s

worker:
  concurrency: 4
  pause_file: /tmp/ci_admission_paused

capabilities:
  path: /etc/ci-admission/capabilities.yaml
`
	if err := os.WriteFile(cfgFile, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GITLAB_TOKEN", "token-env")
	t.Setenv("DATABASE_URL", "postgres://env@localhost/ci")
	t.Setenv("CI_ADMISSION_API_TOKEN", "api-secret")

	c, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.GitLab.Token != "token-env" {
		t.Errorf("env override failed, got %s", c.GitLab.Token)
	}
	if c.Database.DSN != "postgres://env@localhost/ci" {
		t.Errorf("dsn override failed, got %s", c.Database.DSN)
	}
	if c.HTTP.Token != "api-secret" {
		t.Errorf("api token override failed, got %q", c.HTTP.Token)
	}
	if c.GitLab.BaseURL != "https://example.com" {
		t.Errorf("base url not trimmed: %s", c.GitLab.BaseURL)
	}
	if c.Worker.Concurrency != 4 || c.Redis.BlockTimeout != 2*time.Second {
		t.Errorf("yaml values lost: %+v %+v", c.Worker, c.Redis)
	}
	if c.Redis.EventsKey == "" || c.HTTP.Listen == "" {
		t.Errorf("defaults not applied")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Worker.Concurrency != 2 {
		t.Errorf("concurrency default = %d", c.Worker.Concurrency)
	}
	if err := c.Validate(); err == nil {
		t.Errorf("expected validation error without DATABASE_URL")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("worker: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgFile); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestWriteFileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "caps.yaml")
	if err := WriteFileLocked(path, []byte("flags: {}\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "flags: {}\n" {
		t.Errorf("content = %q", b)
	}
}
