package snapdiff

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the worker process needs. The zero value is not
// usable; start from DefaultConfig and override.
type Config struct {
	// ReleaseServerPrefix is the URL prefix of the release-tracking API,
	// such as "http://example.com/here/is/my/api".
	ReleaseServerPrefix string `yaml:"release_server_prefix"`

	// Queue endpoints. A worker loop is started for each non-empty URL.
	CaptureQueueURL string `yaml:"capture_queue_url"`
	PdiffQueueURL   string `yaml:"pdiff_queue_url"`

	// External tools invoked through the process executor.
	CaptureBinary string `yaml:"capture_binary"`
	CaptureScript string `yaml:"capture_script"`
	PdiffBinary   string `yaml:"pdiff_binary"`

	// Executor pool sizes: the engine's backpressure knobs.
	FetchWorkers int `yaml:"fetch_workers"`
	ProcWorkers  int `yaml:"proc_workers"`

	// Timeouts.
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`

	// Queue worker pacing.
	PollMinBackoff    time.Duration `yaml:"poll_min_backoff"`
	PollMaxBackoff    time.Duration `yaml:"poll_max_backoff"`
	ReportMaxRetries  int           `yaml:"report_max_retries"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// WorkDir receives per-lease scratch directories.
	WorkDir string `yaml:"work_dir"`

	// CacheDir, if set, enables the local artifact cache and lease
	// journal (a SQLite database inside the directory).
	CacheDir string `yaml:"cache_dir"`

	// CacheMaxAge prunes cache index entries older than this on startup.
	// Zero disables pruning.
	CacheMaxAge time.Duration `yaml:"cache_max_age"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		FetchWorkers:      4,
		ProcWorkers:       1,
		FetchTimeout:      60 * time.Second,
		UploadTimeout:     120 * time.Second,
		ProcessTimeout:    120 * time.Second,
		PollMinBackoff:    time.Second,
		PollMaxBackoff:    30 * time.Second,
		ReportMaxRetries:  5,
		HeartbeatInterval: 15 * time.Second,
		WorkDir:           os.TempDir(),
		LogLevel:          "info",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the combinations a worker process cannot run without.
func (c *Config) Validate() error {
	if c.ReleaseServerPrefix == "" {
		return errors.New("release_server_prefix is required")
	}
	if c.CaptureQueueURL == "" && c.PdiffQueueURL == "" {
		return errors.New("at least one of capture_queue_url and pdiff_queue_url is required")
	}
	if c.CaptureQueueURL != "" {
		if c.CaptureBinary == "" {
			return errors.New("capture_binary is required when capture_queue_url is set")
		}
		if c.CaptureScript == "" {
			return errors.New("capture_script is required when capture_queue_url is set")
		}
	}
	if c.PdiffQueueURL != "" && c.PdiffBinary == "" {
		return errors.New("pdiff_binary is required when pdiff_queue_url is set")
	}
	if c.FetchWorkers <= 0 || c.ProcWorkers <= 0 {
		return errors.New("worker pool sizes must be positive")
	}
	return nil
}
