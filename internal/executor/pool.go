// Package executor provides the bounded worker pools that perform
// blocking operations (HTTP calls, subprocess runs) on behalf of the
// coordinator. Pool capacity per operation kind is the engine's only
// backpressure mechanism: bounding concurrent uploads is independent of
// bounding concurrent diff processes.
package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/petrijr/snapdiff/pkg/api"
)

// ErrStopped completes operations that were still queued when the pool
// shut down and whose submission context carried no error of its own.
var ErrStopped = errors.New("executor: pool stopped")

// RunFunc performs one blocking operation under ctx.
type RunFunc func(ctx context.Context, op api.Operation) (any, error)

// Pool is a fixed-size worker pool for one class of operation. It
// implements the coordinator's Dispatcher contract: Dispatch enqueues
// without blocking the caller, a worker goroutine performs the call,
// and done is invoked exactly once with the outcome.
type Pool struct {
	name string
	run  RunFunc
	ops  chan submission

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
	workers   int
}

type submission struct {
	ctx  context.Context
	op   api.Operation
	done func(result any, err error)
}

// NewPool creates a pool with the given number of workers. queueDepth
// bounds how many operations may sit enqueued ahead of the workers; if
// it is exceeded, Dispatch falls back to a blocking enqueue on a
// throwaway goroutine so the decision loop is never stalled.
func NewPool(name string, workers, queueDepth int, run RunFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	return &Pool{
		name:    name,
		run:     run,
		ops:     make(chan submission, queueDepth),
		quit:    make(chan struct{}),
		workers: workers,
	}
}

// Start launches the worker goroutines. Calling Start more than once is
// a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.worker()
		}
	})
}

// Stop prevents further dispatches from being picked up and waits for
// in-flight operations to finish. Queued-but-unstarted operations are
// completed with the context error of their submission, or ErrStopped
// when that context is still live.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		// Workers are gone; anything still queued gets its done
		// callback here so no submission is silently dropped.
		for {
			select {
			case sub := <-p.ops:
				err := sub.ctx.Err()
				if err == nil {
					err = ErrStopped
				}
				sub.done(nil, err)
			default:
				return
			}
		}
	})
}

// Dispatch implements sched.Dispatcher.
func (p *Pool) Dispatch(ctx context.Context, op api.Operation, done func(result any, err error)) {
	sub := submission{ctx: ctx, op: op, done: done}
	select {
	case p.ops <- sub:
	default:
		// Queue full: park the enqueue off the caller's goroutine.
		go func() {
			select {
			case p.ops <- sub:
			case <-ctx.Done():
				done(nil, ctx.Err())
			}
		}()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case sub := <-p.ops:
			if err := sub.ctx.Err(); err != nil {
				sub.done(nil, err)
				continue
			}
			result, err := p.run(sub.ctx, sub.op)
			sub.done(result, err)
		}
	}
}
