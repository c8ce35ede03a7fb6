// Package snapdiff is a distributed visual-regression-testing client.
//
// It drives headless browser captures and perceptual diffs through
// external tools, uploads the resulting artifacts to a release-tracking
// server by content hash, and reports run outcomes, all on top of a
// cooperative task-scheduling engine.
//
// The engine has four layers, leaves first:
//
//   - Task (pkg/api): a suspendable unit of work. A task's computation
//     runs on its own goroutine and suspends only at explicit yields of
//     dependencies (operations or sub-tasks) via its TaskContext.
//   - Executors (internal/executor): bounded worker pools, one per
//     operation kind (HTTP fetch, subprocess), so blocking work never
//     stalls scheduling and pool capacity is the backpressure knob.
//   - Coordinator (internal/sched): the single decision loop that owns
//     every live task, joins parallel yields in submission order, and
//     publishes finished top-level tasks on an output channel.
//   - Queue workers (internal/workqueue): long-running loops that lease
//     work descriptors from remote queues, run the matching workflow
//     through the coordinator, and acknowledge or fail the lease.
//
// The workflow libraries (pkg/release, pkg/capture, pkg/pdiff) are
// policy riding on those primitives. Runner bundles the whole stack for
// a worker process:
//
//	cfg := snapdiff.DefaultConfig()
//	cfg.ReleaseServerPrefix = "http://example.com/api"
//	cfg.PdiffQueueURL = "http://example.com/api/work_queue/run-pdiff"
//	cfg.PdiffBinary = "/usr/bin/perceptualdiff"
//
//	runner, err := snapdiff.NewRunner(cfg, nil)
//	if err != nil { ... }
//	runner.Start(ctx)
//	defer runner.Stop()
package snapdiff
