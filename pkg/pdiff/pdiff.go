// Package pdiff turns leased pdiff descriptors into workflow tasks:
// download the candidate and reference screenshots in parallel, invoke
// the external perceptual-diff tool, and report the outcome.
//
// The diff binary's exit status follows the perceptualdiff convention:
// zero when the images match, non-zero when they differ (in which case
// it writes the diff image). Pixel semantics stay inside the binary.
package pdiff

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/petrijr/snapdiff/internal/workqueue"
	"github.com/petrijr/snapdiff/pkg/api"
	"github.com/petrijr/snapdiff/pkg/release"
)

// Config locates the external diff tool.
type Config struct {
	// Binary is the perceptual-diff executable.
	Binary string

	// Timeout bounds one diff invocation. Zero uses the process
	// executor's default.
	Timeout time.Duration

	// WorkDir receives one scratch directory per workflow run.
	WorkDir string
}

// Workflow performs one pdiff run end to end.
type Workflow struct {
	API *release.API
	Cfg Config

	BuildID       int64
	ReleaseName   string
	ReleaseNumber int64
	RunName       string

	// RunSHA1Sum and ReferenceSHA1Sum address the two screenshots to
	// compare.
	RunSHA1Sum       string
	ReferenceSHA1Sum string
}

func (w *Workflow) TaskName() string { return "pdiff" }

func (w *Workflow) Run(tc *api.TaskContext) (any, error) {
	dir, err := os.MkdirTemp(w.Cfg.WorkDir, "pdiff-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	runPath := filepath.Join(dir, "run.png")
	refPath := filepath.Join(dir, "reference.png")
	diffPath := filepath.Join(dir, "diff.png")
	logPath := filepath.Join(dir, "pdiff.log")

	if _, err := tc.WaitAll(
		&release.DownloadArtifactWorkflow{API: w.API, SHA1Sum: w.RunSHA1Sum, OutputPath: runPath},
		&release.DownloadArtifactWorkflow{API: w.API, SHA1Sum: w.ReferenceSHA1Sum, OutputPath: refPath},
	); err != nil {
		return nil, err
	}

	res, err := tc.Wait(&api.Exec{
		Path:    w.Cfg.Binary,
		Args:    []string{refPath, runPath, "-output", diffPath},
		Timeout: w.Cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	run := res.(*api.ExecResult)

	logData := append(append([]byte{}, run.Stdout...), run.Stderr...)
	if err := os.WriteFile(logPath, logData, 0o644); err != nil {
		return nil, err
	}

	// ReportPdiffWorkflow checks for the diff image itself: when the
	// tool found no difference it never wrote diffPath, and the report
	// goes out with no_diff set.
	if _, err := tc.Wait(&release.ReportPdiffWorkflow{
		API:           w.API,
		BuildID:       w.BuildID,
		ReleaseName:   w.ReleaseName,
		ReleaseNumber: w.ReleaseNumber,
		RunName:       w.RunName,
		DiffPath:      diffPath,
		LogPath:       logPath,
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

// NewTaskBuilder adapts lease payloads into pdiff Workflows.
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
			API:              apiRef,
			Cfg:              cfg,
			BuildID:          buildID,
			ReleaseName:      d.Str("release_name"),
			ReleaseNumber:    releaseNumber,
			RunName:          d.Str("run_name"),
			RunSHA1Sum:       d.Str("run_sha1sum"),
			ReferenceSHA1Sum: d.Str("reference_sha1sum"),
		}
		if w.ReleaseName == "" || w.RunName == "" || w.RunSHA1Sum == "" || w.ReferenceSHA1Sum == "" {
			return nil, fmt.Errorf("payload missing release_name, run_name, or image hashes")
		}
		return w, nil
	}
}
