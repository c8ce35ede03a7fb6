// Package capture turns leased capture descriptors into workflow tasks:
// download the capture config artifact, invoke the external capture
// tool, and report the resulting screenshot, log, and config back to
// the release server.
//
// What the capture tool does with pixels is its own business; this
// package interprets nothing beyond its exit code and output files.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/petrijr/snapdiff/internal/workqueue"
	"github.com/petrijr/snapdiff/pkg/api"
	"github.com/petrijr/snapdiff/pkg/release"
)

// Config locates the external capture tool.
type Config struct {
	// Binary is the headless browser executable.
	Binary string

	// Script is the capture script the binary runs.
	Script string

	// Timeout bounds one capture invocation. Zero uses the process
	// executor's default.
	Timeout time.Duration

	// WorkDir receives one scratch directory per workflow run.
	WorkDir string
}

// CaptureError indicates the capture tool exited non-zero.
type CaptureError struct {
	ExitCode int
	Log      string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed with exit code %d", e.ExitCode)
}

// Workflow performs one capture run end to end.
type Workflow struct {
	API *release.API
	Cfg Config

	BuildID       int64
	ReleaseName   string
	ReleaseNumber int64
	RunName       string

	// ConfigSHA1Sum addresses the capture config artifact on the server.
	ConfigSHA1Sum string
}

func (w *Workflow) TaskName() string { return "capture" }

func (w *Workflow) Run(tc *api.TaskContext) (any, error) {
	dir, err := os.MkdirTemp(w.Cfg.WorkDir, "capture-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	configPath := filepath.Join(dir, "config.json")
	screenshotPath := filepath.Join(dir, "capture.png")
	logPath := filepath.Join(dir, "capture.log")

	if _, err := tc.Wait(&release.DownloadArtifactWorkflow{
		API:        w.API,
		SHA1Sum:    w.ConfigSHA1Sum,
		OutputPath: configPath,
	}); err != nil {
		return nil, err
	}

	res, err := tc.Wait(&api.Exec{
		Path:    w.Cfg.Binary,
		Args:    []string{w.Cfg.Script, configPath, screenshotPath},
		Timeout: w.Cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	run := res.(*api.ExecResult)

	// The tool's combined output is the run log, uploaded win or lose.
	logData := append(append([]byte{}, run.Stdout...), run.Stderr...)
	if err := os.WriteFile(logPath, logData, 0o644); err != nil {
		return nil, err
	}

	if run.ExitCode != 0 {
		return nil, &CaptureError{ExitCode: run.ExitCode, Log: string(logData)}
	}

	if _, err := tc.Wait(&release.ReportRunWorkflow{
		API:            w.API,
		BuildID:        w.BuildID,
		ReleaseName:    w.ReleaseName,
		ReleaseNumber:  w.ReleaseNumber,
		RunName:        w.RunName,
		ScreenshotPath: screenshotPath,
		LogPath:        logPath,
		ConfigPath:     configPath,
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

// NewTaskBuilder adapts lease payloads into capture Workflows.
func NewTaskBuilder(apiRef *release.API, cfg Config) workqueue.TaskBuilder {
	return func(d *workqueue.Descriptor) (api.Task, error) {
		buildID, ok := d.Int("build_id")
		if !ok {
			return nil, fmt.Errorf("payload missing build_id")
		}
		releaseNumber, ok := d.Int("release_number")
		if !ok {
			return nil, fmt.Errorf("payload missing release_number")
		}
		w := &Workflow{
			API:           apiRef,
			Cfg:           cfg,
			BuildID:       buildID,
			ReleaseName:   d.Str("release_name"),
			ReleaseNumber: releaseNumber,
			RunName:       d.Str("run_name"),
			ConfigSHA1Sum: d.Str("config_sha1sum"),
		}
		if w.ReleaseName == "" || w.RunName == "" || w.ConfigSHA1Sum == "" {
			return nil, fmt.Errorf("payload missing release_name, run_name, or config_sha1sum")
		}
		return w, nil
	}
}
