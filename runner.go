package snapdiff

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grafana/dskit/backoff"
	_ "modernc.org/sqlite"

	"github.com/petrijr/snapdiff/internal/artifactcache"
	"github.com/petrijr/snapdiff/internal/workqueue"
	"github.com/petrijr/snapdiff/pkg/capture"
	"github.com/petrijr/snapdiff/pkg/pdiff"
	"github.com/petrijr/snapdiff/pkg/release"
)

// Runner bundles a Coordinator, its executor pools, the optional local
// artifact cache, and one queue worker per configured work kind into a
// single worker process.
//
// Typical usage:
//
//	runner, err := snapdiff.NewRunner(cfg, nil)
//	if err != nil { ... }
//	if err := runner.Start(ctx); err != nil { ... }
//	...
//	runner.Stop()
type Runner struct {
	// Coordinator is shared by every queue worker started by this
	// runner. It is also usable directly for ad-hoc submissions.
	Coordinator Coordinator

	// API is the release-server binding handed to workflow tasks.
	API *release.API

	cfg     Config
	log     *slog.Logger
	cacheDB *sql.DB
	workers []*workqueue.Worker
	journal workqueue.Journal

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner validates cfg and wires the full stack. logger nil means
// slog.Default. The coordinator is not started until Start.
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		cfg: cfg,
		log: logger,
		API: &release.API{
			ServerPrefix:  cfg.ReleaseServerPrefix,
			UploadTimeout: cfg.UploadTimeout,
		},
	}

	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, err
		}
		db, err := sql.Open("sqlite", filepath.Join(cfg.CacheDir, "snapdiff.db"))
		if err != nil {
			return nil, err
		}
		store, err := artifactcache.NewStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		r.cacheDB = db
		r.journal = store
		r.API.Cache = store
		r.API.CacheDir = cfg.CacheDir

		if cfg.CacheMaxAge > 0 {
			if n, err := store.PruneArtifacts(time.Now().Add(-cfg.CacheMaxAge)); err != nil {
				logger.Warn("cache prune failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("pruned artifact cache", slog.Int64("entries", n))
			}
		}
	}

	return r, nil
}

// Start launches the coordinator, the executor pools, one goroutine per
// configured queue worker, and the output drain. Calling Start on a
// running Runner is an error.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("snapdiff: Runner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.Coordinator = NewCoordinator(ctx, r.cfg, NewLoggingObserver(r.log))
	r.workers = r.buildWorkers()

	for _, w := range r.workers {
		w := w
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = w.Run(ctx)
		}()
	}

	// Drain the output channel: every finished top-level task is logged
	// here, failures included, so nothing disappears silently even for
	// ad-hoc submissions nobody waits on.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for inst := range r.Coordinator.Output() {
			if inst.Err != nil {
				r.log.Warn("task finished with failure",
					slog.String("task", inst.Name),
					slog.String("instance_id", inst.ID),
					slog.String("error", inst.Err.Error()))
				continue
			}
			r.log.Debug("task finished",
				slog.String("task", inst.Name),
				slog.String("instance_id", inst.ID))
		}
	}()

	return nil
}

func (r *Runner) buildWorkers() []*workqueue.Worker {
	var workers []*workqueue.Worker

	pollCfg := backoff.Config{
		MinBackoff: r.cfg.PollMinBackoff,
		MaxBackoff: r.cfg.PollMaxBackoff,
	}
	reportCfg := backoff.Config{
		MinBackoff: r.cfg.PollMinBackoff,
		MaxBackoff: r.cfg.PollMaxBackoff,
		MaxRetries: r.cfg.ReportMaxRetries,
	}

	if r.cfg.CaptureQueueURL != "" {
		builder := capture.NewTaskBuilder(r.API, capture.Config{
			Binary:  r.cfg.CaptureBinary,
			Script:  r.cfg.CaptureScript,
			Timeout: r.cfg.ProcessTimeout,
			WorkDir: r.cfg.WorkDir,
		})
		workers = append(workers, workqueue.NewWorker(
			workqueue.WorkerConfig{
				Name:              "capture",
				PollBackoff:       pollCfg,
				ReportBackoff:     reportCfg,
				HeartbeatInterval: r.cfg.HeartbeatInterval,
				Logger:            r.log,
			},
			&workqueue.Client{QueueURL: r.cfg.CaptureQueueURL},
			r.Coordinator,
			builder,
			r.journal,
		))
	}

	if r.cfg.PdiffQueueURL != "" {
		builder := pdiff.NewTaskBuilder(r.API, pdiff.Config{
			Binary:  r.cfg.PdiffBinary,
			Timeout: r.cfg.ProcessTimeout,
			WorkDir: r.cfg.WorkDir,
		})
		workers = append(workers, workqueue.NewWorker(
			workqueue.WorkerConfig{
				Name:              "pdiff",
				PollBackoff:       pollCfg,
				ReportBackoff:     reportCfg,
				HeartbeatInterval: r.cfg.HeartbeatInterval,
				Logger:            r.log,
			},
			&workqueue.Client{QueueURL: r.cfg.PdiffQueueURL},
			r.Coordinator,
			builder,
			r.journal,
		))
	}

	return workers
}

// Stop cancels the queue workers, shuts down the coordinator and its
// pools, waits for everything to exit, and closes the cache database.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.Coordinator.Stop()
	r.wg.Wait()

	if r.cacheDB != nil {
		_ = r.cacheDB.Close()
	}
}
