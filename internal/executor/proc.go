package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/petrijr/snapdiff/pkg/api"
)

// ProcConfig tunes the subprocess executor pool.
type ProcConfig struct {
	// Workers is the number of concurrent subprocesses. Defaults to 1:
	// capture and pdiff binaries are CPU- and display-hungry, so the
	// safe default is strict serialization.
	Workers int

	// QueueDepth bounds the dispatch queue. Defaults to 1024.
	QueueDepth int

	// DefaultTimeout applies to operations with a zero Timeout.
	// Defaults to 120s.
	DefaultTimeout time.Duration
}

// NewProcPool builds the executor pool for api.Exec operations.
func NewProcPool(cfg ProcConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 120 * time.Second
	}
	p := &procRunner{defaultTimeout: cfg.DefaultTimeout}
	return NewPool("proc", cfg.Workers, cfg.QueueDepth, p.run)
}

type procRunner struct {
	defaultTimeout time.Duration
}

func (p *procRunner) run(ctx context.Context, op api.Operation) (any, error) {
	ex, ok := op.(*api.Exec)
	if !ok {
		return nil, fmt.Errorf("proc executor got %T", op)
	}

	timeout := ex.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ex.Path, ex.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Timeout trumps the exit status: CommandContext kills the process
	// on expiry and Run reports the kill, not the real outcome.
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &api.TimeoutError{Op: ex.Describe(), Timeout: timeout}
	}

	result := &api.ExecResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is a completed operation; the workflow
			// interprets the code.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// The process never ran (bad path, permissions, fork failure).
		return nil, &api.OpError{Op: ex.Describe(), Err: err}
	}

	return result, nil
}
