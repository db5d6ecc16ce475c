package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GitLab struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"gitlab"`

	Database struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
	} `yaml:"database"`

	Redis struct {
		URL           string        `yaml:"url"`
		EventsKey     string        `yaml:"events_key"`
		RecomputeKey  string        `yaml:"recompute_key"`
		DeadLetterKey string        `yaml:"dead_letter_key"`
		BlockTimeout  time.Duration `yaml:"block_timeout"`
	} `yaml:"redis"`

	Worker struct {
		Concurrency int           `yaml:"concurrency"`
		PauseFile   string        `yaml:"pause_file"`
		Idle        time.Duration `yaml:"idle"`
		RetryBudget time.Duration `yaml:"retry_budget"`
	} `yaml:"worker"`

	HTTP struct {
		Listen string `yaml:"listen"`
		// Token, when set, is required as a bearer token on every route but /healthz and /metrics.
		Token string `yaml:"token"`
	} `yaml:"http"`

	Capabilities struct {
		Path string `yaml:"path"`
	} `yaml:"capabilities"`

	Journal struct {
		Dir string `yaml:"dir"`
	} `yaml:"journal"`

	Telemetry struct {
		Tracing     bool   `yaml:"tracing"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"telemetry"`
}

// Load reads path (if it exists), then applies env overrides and defaults.
// It does not require the service endpoints; see Validate.
func Load(path string) (Config, error) {
	var c Config

	c.GitLab.BaseURL = "https://gitlab.com"
	c.GitLab.Timeout = 10 * time.Second
	c.Database.MaxOpenConns = 10
	c.Redis.EventsKey = "ci_admission:pipeline_created"
	c.Redis.RecomputeKey = "ci_admission:pipeline_process"
	c.Redis.DeadLetterKey = "ci_admission:dead_letter"
	c.Redis.BlockTimeout = 5 * time.Second
	c.Worker.Concurrency = 2
	c.Worker.Idle = time.Second
	c.Worker.RetryBudget = 30 * time.Second
	c.HTTP.Listen = ":8085"
	c.Capabilities.Path = "capabilities.yaml"
	c.Journal.Dir = expandHome("~/.cache/ci-admission")
	c.Telemetry.ServiceName = "ci-admission"

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, err
		}
	}

	if v := os.Getenv("GITLAB_BASE_URL"); v != "" {
		c.GitLab.BaseURL = v
	}

	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitLab.Token = v
	}

	if v := os.Getenv("GITLAB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitLab.Timeout = d
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}

	if v := os.Getenv("CI_ADMISSION_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("CI_ADMISSION_API_TOKEN"); v != "" {
		c.HTTP.Token = v
	}

	if v := os.Getenv("CI_ADMISSION_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.Concurrency = n
		}
	}

	if v := os.Getenv("CI_ADMISSION_CAPABILITIES"); v != "" {
		c.Capabilities.Path = v
	}

	if v := os.Getenv("CI_ADMISSION_JOURNAL"); v != "" {
		c.Journal.Dir = v
	}

	if v := os.Getenv("CI_ADMISSION_TRACING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Tracing = b
		}
	}

	c.GitLab.BaseURL = strings.TrimRight(c.GitLab.BaseURL, "/")
	c.Journal.Dir = expandHome(c.Journal.Dir)
	c.Capabilities.Path = expandHome(c.Capabilities.Path)
	c.Worker.PauseFile = expandHome(c.Worker.PauseFile)

	if c.GitLab.Timeout <= 0 {
		c.GitLab.Timeout = 10 * time.Second
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}

	if c.Redis.BlockTimeout <= 0 {
		c.Redis.BlockTimeout = 5 * time.Second
	}

	return c, nil
}

// Validate checks what the admission worker needs to start.
func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return errors.New("REDIS_URL is required")
	}

	if c.Capabilities.Path == "" {
		return errors.New("capabilities path is required")
	}

	return nil
}

// RunnerChecksEnabled reports whether a GitLab token is configured for runner lookups.
func (c Config) RunnerChecksEnabled() bool {
	return c.GitLab.Token != ""
}

// WriteFileLocked replaces path with b under an exclusive lock file.
func WriteFileLocked(path string, b []byte) error {
	if path == "" {
		return errors.New("empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
