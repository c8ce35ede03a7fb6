package api

// Coordinator is the scheduling loop that owns all live tasks.
//
// A single decision goroutine advances each task when its dependencies
// complete; blocking work is offloaded to per-kind executor pools so the
// loop itself never blocks on I/O. Resume ordering is deterministic:
// FIFO over the queue of completion events.
type Coordinator interface {
	// Submit hands a top-level task to the coordinator, which takes
	// ownership of scheduling it and every task it transitively spawns.
	// The returned Instance finishes once the task is DONE or FAILED;
	// the same Instance is also emitted on Output.
	Submit(t Task) *Instance

	// Output emits every finished top-level task exactly once. The
	// consumer must drain this channel (or the coordinator will
	// eventually stall once the buffer fills).
	Output() <-chan *Instance

	// Stop shuts the coordinator down: in-flight tasks are allowed to
	// finish as their operations complete or time out, new submissions
	// are rejected, and Output is closed once the task pool drains.
	Stop()
}
