package snapdiff

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.ReleaseServerPrefix = "http://example.com/api"
	cfg.CaptureQueueURL = "http://example.com/api/work_queue/run-capture"
	cfg.CaptureBinary = "/usr/bin/phantomjs"
	cfg.CaptureScript = "/opt/snapdiff/capture.js"
	cfg.PdiffQueueURL = "http://example.com/api/work_queue/run-pdiff"
	cfg.PdiffBinary = "/usr/bin/perceptualdiff"
	return cfg
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
release_server_prefix: http://example.com/api
capture_queue_url: http://example.com/api/work_queue/run-capture
capture_binary: /usr/bin/phantomjs
capture_script: /opt/snapdiff/capture.js
fetch_workers: 8
process_timeout: 5m
log_level: debug
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "http://example.com/api", cfg.ReleaseServerPrefix)
	require.Equal(t, 8, cfg.FetchWorkers)
	require.Equal(t, 5*time.Minute, cfg.ProcessTimeout)
	require.Equal(t, "debug", cfg.LogLevel)

	// Untouched fields keep their defaults.
	require.Equal(t, 1, cfg.ProcWorkers)
	require.Equal(t, 30*time.Second, cfg.PollMaxBackoff)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`fetch_workers: [not a number`), 0o644))

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "parse")
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	missing := validConfig()
	missing.ReleaseServerPrefix = ""
	require.ErrorContains(t, missing.Validate(), "release_server_prefix")

	noQueues := validConfig()
	noQueues.CaptureQueueURL = ""
	noQueues.PdiffQueueURL = ""
	require.ErrorContains(t, noQueues.Validate(), "at least one")

	noBinary := validConfig()
	noBinary.CaptureBinary = ""
	require.ErrorContains(t, noBinary.Validate(), "capture_binary")

	noScript := validConfig()
	noScript.CaptureScript = ""
	require.ErrorContains(t, noScript.Validate(), "capture_script")

	noPdiff := validConfig()
	noPdiff.PdiffBinary = ""
	require.ErrorContains(t, noPdiff.Validate(), "pdiff_binary")

	badPools := validConfig()
	badPools.FetchWorkers = 0
	require.ErrorContains(t, badPools.Validate(), "pool sizes")

	// Dropping one queue relaxes that queue's tool requirements.
	pdiffOnly := validConfig()
	pdiffOnly.CaptureQueueURL = ""
	pdiffOnly.CaptureBinary = ""
	pdiffOnly.CaptureScript = ""
	require.NoError(t, pdiffOnly.Validate())
}
