package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/petrijr/snapdiff/pkg/api"
)

// TaskBuilder turns a leased descriptor into the workflow task that
// performs it. Returning an error fails the lease without execution.
type TaskBuilder func(d *Descriptor) (api.Task, error)

// Journal records completed leases durably so a re-delivered descriptor
// (at-least-once semantics) can be acknowledged without re-execution.
// All workflow side effects are idempotent anyway; the journal just
// saves the repeat work.
type Journal interface {
	IsCompleted(queue, taskID string) (bool, error)
	MarkCompleted(queue, taskID string) error
}

// WorkerConfig describes one queue worker loop.
type WorkerConfig struct {
	// Name identifies the worker in logs (for example "capture").
	Name string

	// PollBackoff paces lease polls while the queue is empty or
	// unreachable. MaxRetries must be zero (the loop never gives up).
	PollBackoff backoff.Config

	// ReportBackoff paces completion reports. MaxRetries bounds the
	// attempts; on exhaustion the lease is abandoned and left to expire,
	// which re-delivers the item elsewhere.
	ReportBackoff backoff.Config

	// HeartbeatInterval is how often a held lease is heartbeat while the
	// workflow executes. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Worker is a long-running loop that leases work descriptors from one
// remote queue, executes them through the coordinator, and reports the
// outcome. A single failed task fails only its own lease; the loop
// keeps running.
type Worker struct {
	cfg     WorkerConfig
	client  *Client
	coord   api.Coordinator
	build   TaskBuilder
	journal Journal
	log     *slog.Logger
}

// NewWorker wires a worker loop. journal may be nil to disable the
// duplicate-lease short-circuit.
func NewWorker(cfg WorkerConfig, client *Client, coord api.Coordinator, build TaskBuilder, journal Journal) *Worker {
	if cfg.PollBackoff.MinBackoff <= 0 {
		cfg.PollBackoff.MinBackoff = time.Second
	}
	if cfg.PollBackoff.MaxBackoff <= 0 {
		cfg.PollBackoff.MaxBackoff = 30 * time.Second
	}
	cfg.PollBackoff.MaxRetries = 0

	if cfg.ReportBackoff.MinBackoff <= 0 {
		cfg.ReportBackoff.MinBackoff = time.Second
	}
	if cfg.ReportBackoff.MaxBackoff <= 0 {
		cfg.ReportBackoff.MaxBackoff = 30 * time.Second
	}
	if cfg.ReportBackoff.MaxRetries <= 0 {
		cfg.ReportBackoff.MaxRetries = 5
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("worker", cfg.Name))

	return &Worker{
		cfg:     cfg,
		client:  client,
		coord:   coord,
		build:   build,
		journal: journal,
		log:     log,
	}
}

// Run executes the lease loop until ctx is cancelled. Each iteration is
// Idle -> Leasing -> Executing -> Reporting -> Idle.
func (w *Worker) Run(ctx context.Context) error {
	poll := backoff.New(ctx, w.cfg.PollBackoff)

	for ctx.Err() == nil {
		d, err := w.client.Lease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Warn("lease poll failed", slog.String("error", err.Error()))
			poll.Wait()
			continue
		}
		if d == nil {
			poll.Wait()
			continue
		}
		poll.Reset()

		w.processLease(ctx, d)
	}
	return ctx.Err()
}

func (w *Worker) processLease(ctx context.Context, d *Descriptor) {
	log := w.log.With(slog.String("task_id", d.TaskID))

	if w.journal != nil {
		done, err := w.journal.IsCompleted(w.cfg.Name, d.TaskID)
		if err != nil {
			log.Warn("journal lookup failed", slog.String("error", err.Error()))
		} else if done {
			// Re-delivered lease for work this process already finished:
			// acknowledge without executing again.
			log.Info("duplicate lease, acking without re-execution")
			w.report(ctx, d, nil)
			return
		}
	}

	task, err := w.build(d)
	if err != nil {
		log.Warn("descriptor rejected", slog.String("error", err.Error()))
		w.report(ctx, d, fmt.Errorf("bad work descriptor: %w", err))
		return
	}

	inst := w.coord.Submit(task)
	stopHeartbeat := w.startHeartbeat(ctx, d.TaskID)
	_, runErr := inst.Wait(ctx)
	stopHeartbeat()

	if ctx.Err() != nil && errors.Is(runErr, ctx.Err()) {
		// Shutting down mid-task: leave the lease to expire so another
		// worker picks it up.
		return
	}

	w.report(ctx, d, runErr)
}

// report acknowledges or fails the lease, retrying with backoff up to
// the configured bound. Losing the race is safe: the lease expires and
// the idempotent workflow runs again elsewhere.
func (w *Worker) report(ctx context.Context, d *Descriptor, runErr error) {
	b := backoff.New(ctx, w.cfg.ReportBackoff)
	for b.Ongoing() {
		var err error
		if runErr == nil {
			err = w.client.Finish(ctx, d.TaskID)
		} else {
			err = w.client.Error(ctx, d.TaskID, runErr.Error())
		}
		if err == nil {
			if runErr == nil && w.journal != nil {
				if jerr := w.journal.MarkCompleted(w.cfg.Name, d.TaskID); jerr != nil {
					w.log.Warn("journal write failed", slog.String("error", jerr.Error()))
				}
			}
			if runErr != nil {
				w.log.Warn("lease failed",
					slog.String("task_id", d.TaskID),
					slog.String("error", runErr.Error()))
			}
			return
		}
		w.log.Warn("report attempt failed",
			slog.String("task_id", d.TaskID),
			slog.String("error", err.Error()))
		b.Wait()
	}
	w.log.Error("giving up reporting lease, leaving it to expire",
		slog.String("task_id", d.TaskID))
}

func (w *Worker) startHeartbeat(ctx context.Context, taskID string) func() {
	if w.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}

	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		index := 0
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				index++
				if err := w.client.Heartbeat(hctx, taskID, "executing", index); err != nil {
					w.log.Debug("heartbeat failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
