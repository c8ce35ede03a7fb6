package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/snapdiff/pkg/api"
)

// Dispatcher performs one kind of Operation asynchronously. Dispatch
// must not block beyond enqueueing; done is invoked exactly once, from
// an arbitrary goroutine, with the operation's result or error.
type Dispatcher interface {
	Dispatch(ctx context.Context, op api.Operation, done func(result any, err error))
}

// Config describes how to construct a Coordinator.
type Config struct {
	// Dispatchers maps each operation kind to the pool that performs it.
	// Yielding an operation with no registered dispatcher fails that
	// dependency (and so the yield) immediately.
	Dispatchers map[api.OpKind]Dispatcher

	// Observer receives lifecycle callbacks. Defaults to NoopObserver.
	Observer api.Observer

	// OutputBuffer is the capacity of the Output channel. Defaults to 128.
	OutputBuffer int
}

// Coordinator implements api.Coordinator.
//
// All task bookkeeping (states, pending dependency counts, result slots)
// is owned by the single decision goroutine in run; executors and task
// goroutines communicate with it only through the events channel, so no
// task state is ever mutated concurrently. Event delivery order is the
// FIFO order of the channel, which makes resume ordering deterministic
// and observable in tests.
type Coordinator struct {
	cfg    Config
	obs    api.Observer
	ctx    context.Context
	cancel context.CancelFunc

	events chan event
	output chan *api.Instance

	mu      sync.Mutex
	stopped bool

	loopDone chan struct{}
}

type event interface{ isEvent() }

// submitEvent introduces a new top-level task.
type submitEvent struct {
	ts *taskState
}

// yieldEvent is sent by a task goroutine when its computation suspends.
type yieldEvent struct {
	ts   *taskState
	deps []any
}

// finishEvent is sent by a task goroutine when its computation returns.
type finishEvent struct {
	ts     *taskState
	output any
	err    error
}

// opDoneEvent is posted on behalf of an executor when an operation
// completes.
type opDoneEvent struct {
	ts      *taskState
	slot    int
	desc    string
	started time.Time
	result  any
	err     error
}

func (submitEvent) isEvent() {}
func (yieldEvent) isEvent()  {}
func (finishEvent) isEvent() {}
func (opDoneEvent) isEvent() {}

// New constructs a Coordinator and starts its decision loop. The loop
// runs until Stop is called; ctx bounds every operation and task the
// coordinator schedules.
func New(ctx context.Context, cfg Config) *Coordinator {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = 128
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		cfg:      cfg,
		obs:      obs,
		ctx:      cctx,
		cancel:   cancel,
		events:   make(chan event, 256),
		output:   make(chan *api.Instance, cfg.OutputBuffer),
		loopDone: make(chan struct{}),
	}
	go c.run()
	return c
}

var _ api.Coordinator = (*Coordinator)(nil)

// Submit hands a top-level task to the coordinator. After Stop the
// returned instance is already FAILED with context.Canceled.
func (c *Coordinator) Submit(t api.Task) *api.Instance {
	name := api.TaskName(t)
	inst := api.NewInstance(uuid.NewString(), name)

	ts := &taskState{
		id:      inst.ID,
		name:    name,
		task:    t,
		inst:    inst,
		status:  api.StatusRunnable,
		resume:  make(chan resumeMsg, 1),
		started: time.Now(),
	}

	// The send happens under the same lock that Stop takes to set
	// stopped, so once Stop has run no further submitEvent can land.
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		inst.Fail(context.Canceled)
		return inst
	}
	c.events <- submitEvent{ts: ts}
	c.mu.Unlock()
	return inst
}

// Output emits every finished top-level task exactly once.
func (c *Coordinator) Output() <-chan *api.Instance {
	return c.output
}

// Stop rejects further submissions, waits for the live task pool to
// drain (operations finish as they complete or time out), then closes
// Output and returns.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		<-c.loopDone
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	<-c.loopDone
}

// taskState is the coordinator-side bookkeeping for one live task.
// Only the decision loop touches it after construction.
type taskState struct {
	id   string
	name string
	task api.Task

	// inst is non-nil for top-level tasks only.
	inst *api.Instance

	// parent/parentSlot locate this task inside its parent's current
	// yield; both are zero for top-level tasks.
	parent     *taskState
	parentSlot int

	status  api.Status
	started time.Time

	// Current yield bookkeeping: results and depErrs are slot-ordered by
	// submission; pending counts outstanding dependencies.
	pending int
	results []any
	depErrs []error

	// resume delivers the joined results (or the first failure, in slot
	// order) back to the task goroutine. Buffered so the decision loop
	// never blocks on a send.
	resume chan resumeMsg
}

type resumeMsg struct {
	results []any
	err     error
}

// run is the decision loop. It exits once Stop has been requested and no
// live tasks remain.
func (c *Coordinator) run() {
	defer close(c.loopDone)
	defer close(c.output)

	live := make(map[string]*taskState)
	stopping := false

	for {
		var ev event
		if stopping {
			if len(live) == 0 {
				// The buffer may still hold a submission that raced
				// the shutdown; drain it before exiting.
				select {
				case ev = <-c.events:
				default:
					return
				}
			} else {
				// Keep draining events so in-flight tasks can unwind.
				ev = <-c.events
			}
		} else {
			select {
			case ev = <-c.events:
			case <-c.ctx.Done():
				stopping = true
				continue
			}
		}

		switch e := ev.(type) {
		case submitEvent:
			if stopping {
				e.ts.inst.Fail(context.Canceled)
				continue
			}
			live[e.ts.id] = e.ts
			c.startTask(e.ts)

		case yieldEvent:
			c.handleYield(live, e.ts, e.deps)

		case opDoneEvent:
			c.obs.OnOperationCompleted(c.ctx, e.ts.id, e.desc, e.err, time.Since(e.started))
			c.deliver(e.ts, e.slot, e.result, e.err)

		case finishEvent:
			c.finishTask(live, e.ts, e.output, e.err)
		}
	}
}

// startTask launches the task's computation on its own goroutine. The
// goroutine communicates with the loop only via events.
func (c *Coordinator) startTask(ts *taskState) {
	c.obs.OnTaskStart(c.ctx, ts.id, ts.name)

	tc := api.NewTaskContext(c.ctx, ts.id, func(deps []any) ([]any, error) {
		c.events <- yieldEvent{ts: ts, deps: deps}
		msg := <-ts.resume
		return msg.results, msg.err
	})

	go func() {
		output, err := runTask(ts.task, tc)
		c.events <- finishEvent{ts: ts, output: output, err: err}
	}()
}

// runTask invokes the computation, converting panics into failures so a
// buggy workflow cannot take down the worker process.
func runTask(t api.Task, tc *api.TaskContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return t.Run(tc)
}

// handleYield moves ts to WAITING and dispatches every member of the
// yield: operations go to their executor pool, tasks become children.
func (c *Coordinator) handleYield(live map[string]*taskState, ts *taskState, deps []any) {
	ts.status = api.StatusWaiting
	ts.pending = len(deps)
	ts.results = make([]any, len(deps))
	ts.depErrs = make([]error, len(deps))

	if err := api.ValidateDependencies(deps); err != nil {
		// Fail the whole yield without dispatching anything, so the task
		// is resumed with a usable error instead of deadlocking.
		ts.pending = 0
		c.resumeTask(ts, nil, err)
		return
	}

	for i, dep := range deps {
		switch d := dep.(type) {
		case api.Task:
			child := &taskState{
				id:         uuid.NewString(),
				name:       api.TaskName(d),
				task:       d,
				parent:     ts,
				parentSlot: i,
				status:     api.StatusRunnable,
				resume:     make(chan resumeMsg, 1),
				started:    time.Now(),
			}
			live[child.id] = child
			c.startTask(child)

		case api.Operation:
			c.dispatchOp(ts, i, d)
		}
	}
}

// dispatchOp hands one operation to its executor pool. The completion
// callback runs on the executor's goroutine and only posts an event.
func (c *Coordinator) dispatchOp(ts *taskState, slot int, op api.Operation) {
	desc := op.Describe()
	pool, ok := c.cfg.Dispatchers[op.Kind()]
	if !ok {
		c.deliver(ts, slot, nil, fmt.Errorf("no executor for operation kind %q", op.Kind()))
		return
	}

	c.obs.OnOperationStart(c.ctx, ts.id, desc)
	started := time.Now()
	pool.Dispatch(c.ctx, op, func(result any, err error) {
		c.events <- opDoneEvent{
			ts:      ts,
			slot:    slot,
			desc:    desc,
			started: started,
			result:  result,
			err:     err,
		}
	})
}

// deliver records the completion of one dependency slot. The parent is
// resumed only once every member of the yield has reported, success or
// failure; siblings already dispatched are never cancelled early.
func (c *Coordinator) deliver(ts *taskState, slot int, result any, err error) {
	ts.results[slot] = result
	ts.depErrs[slot] = err
	ts.pending--
	if ts.pending > 0 {
		return
	}

	for _, derr := range ts.depErrs {
		if derr != nil {
			c.resumeTask(ts, nil, derr)
			return
		}
	}
	c.resumeTask(ts, ts.results, nil)
}

func (c *Coordinator) resumeTask(ts *taskState, results []any, err error) {
	ts.status = api.StatusRunnable
	ts.results = nil
	ts.depErrs = nil
	ts.resume <- resumeMsg{results: results, err: err}
}

// finishTask records a task's terminal state. Child completions feed the
// parent's current yield; top-level completions are published on Output.
func (c *Coordinator) finishTask(live map[string]*taskState, ts *taskState, output any, err error) {
	if err != nil {
		ts.status = api.StatusFailed
	} else {
		ts.status = api.StatusDone
	}
	c.obs.OnTaskCompleted(c.ctx, ts.id, ts.name, err, time.Since(ts.started))
	delete(live, ts.id)

	if ts.parent != nil {
		c.deliver(ts.parent, ts.parentSlot, output, err)
		return
	}

	if err != nil {
		ts.inst.Fail(err)
	} else {
		ts.inst.Complete(output)
	}

	select {
	case c.output <- ts.inst:
	case <-c.ctx.Done():
		// Shutting down; the owner observes completion via the instance.
	}
}
