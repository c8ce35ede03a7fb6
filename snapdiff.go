package snapdiff

import (
	"context"

	"github.com/petrijr/snapdiff/internal/executor"
	"github.com/petrijr/snapdiff/internal/sched"
	"github.com/petrijr/snapdiff/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Task        = api.Task
	TaskContext = api.TaskContext
	Instance    = api.Instance
	Status      = api.Status
	Operation   = api.Operation
	Fetch       = api.Fetch
	FetchResult = api.FetchResult
	Exec        = api.Exec
	ExecResult  = api.ExecResult
	HashFile    = api.HashFile
	Coordinator = api.Coordinator

	Observer          = api.Observer
	NoopObserver      = api.NoopObserver
	CompositeObserver = api.CompositeObserver
	LoggingObserver   = api.LoggingObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusRunnable = api.StatusRunnable
	StatusWaiting  = api.StatusWaiting
	StatusDone     = api.StatusDone
	StatusFailed   = api.StatusFailed
)

// NewCoordinator builds a Coordinator with executor pools sized from
// cfg and starts everything. Stop shuts down the pools along with the
// scheduling loop.
func NewCoordinator(ctx context.Context, cfg Config, obs Observer) Coordinator {
	fetchPool := executor.NewFetchPool(executor.FetchConfig{
		Workers:        cfg.FetchWorkers,
		DefaultTimeout: cfg.FetchTimeout,
	})
	procPool := executor.NewProcPool(executor.ProcConfig{
		Workers:        cfg.ProcWorkers,
		DefaultTimeout: cfg.ProcessTimeout,
	})
	fetchPool.Start()
	procPool.Start()

	coord := sched.New(ctx, sched.Config{
		Dispatchers: map[api.OpKind]sched.Dispatcher{
			api.OpKindFetch: fetchPool,
			api.OpKindExec:  procPool,
		},
		Observer: obs,
	})
	return &coordinatorBundle{
		Coordinator: coord,
		pools:       []*executor.Pool{fetchPool, procPool},
	}
}

// coordinatorBundle ties the executor pools' lifetime to the
// coordinator's.
type coordinatorBundle struct {
	api.Coordinator
	pools []*executor.Pool
}

func (c *coordinatorBundle) Stop() {
	c.Coordinator.Stop()
	for _, p := range c.pools {
		p.Stop()
	}
}
