package sched

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/snapdiff/pkg/api"
)

// recordingObserver collects lifecycle callbacks for assertions.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingObserver) OnTaskStart(ctx context.Context, taskID, name string) {
	r.add("task_start:" + name)
}

func (r *recordingObserver) OnTaskCompleted(ctx context.Context, taskID, name string, err error, d time.Duration) {
	if err != nil {
		r.add("task_failed:" + name)
		return
	}
	r.add("task_completed:" + name)
}

func (r *recordingObserver) OnOperationStart(ctx context.Context, taskID, desc string) {
	r.add("op_start:" + desc)
}

func (r *recordingObserver) OnOperationCompleted(ctx context.Context, taskID, desc string, err error, d time.Duration) {
	if err != nil {
		r.add("op_failed:" + desc)
		return
	}
	r.add("op_completed:" + desc)
}

type namedTask struct {
	name string
	fn   func(tc *api.TaskContext) (any, error)
}

func (n *namedTask) TaskName() string { return n.name }

func (n *namedTask) Run(tc *api.TaskContext) (any, error) { return n.fn(tc) }

func TestObserverSeesTaskAndOperationLifecycle(t *testing.T) {
	obs := &recordingObserver{}
	c := New(context.Background(), Config{
		Dispatchers: map[api.OpKind]Dispatcher{api.OpKindFetch: echoDispatcher()},
		Observer:    obs,
	})
	t.Cleanup(c.Stop)

	inst := c.Submit(&namedTask{name: "outer", fn: func(tc *api.TaskContext) (any, error) {
		return tc.Wait(&testOp{name: "the-op"})
	}})

	_, err := waitInstance(t, inst)
	require.NoError(t, err)

	// Completion callbacks may trail the instance completing; wait for
	// the final event before asserting.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(obs.snapshot()) == 4 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, []string{
		"task_start:outer",
		"op_start:the-op",
		"op_completed:the-op",
		"task_completed:outer",
	}, obs.snapshot())
}

func TestObserverSeesFailures(t *testing.T) {
	obs := &recordingObserver{}
	d := dispatcherFunc(func(ctx context.Context, op api.Operation, done func(any, error)) {
		go done(nil, errors.New("refused"))
	})
	c := New(context.Background(), Config{
		Dispatchers: map[api.OpKind]Dispatcher{api.OpKindFetch: d},
		Observer:    obs,
	})
	t.Cleanup(c.Stop)

	inst := c.Submit(&namedTask{name: "doomed", fn: func(tc *api.TaskContext) (any, error) {
		return tc.Wait(&testOp{name: "bad-op"})
	}})

	_, err := waitInstance(t, inst)
	require.Error(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(obs.snapshot()) == 4 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, []string{
		"task_start:doomed",
		"op_start:bad-op",
		"op_failed:bad-op",
		"task_failed:doomed",
	}, obs.snapshot())
}

func TestLoggingObserverThroughCoordinator(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(lockedWriter{&mu, &buf}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	c := New(context.Background(), Config{
		Dispatchers: map[api.OpKind]Dispatcher{api.OpKindFetch: echoDispatcher()},
		Observer:    api.NewLoggingObserver(logger),
	})

	inst := c.Submit(&namedTask{name: "logged", fn: func(tc *api.TaskContext) (any, error) {
		return tc.Wait(&testOp{name: "log-op"})
	}})
	_, err := waitInstance(t, inst)
	require.NoError(t, err)
	c.Stop()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	require.Contains(t, out, "task_start")
	require.Contains(t, out, "operation_completed")
	require.Contains(t, out, "task_completed")
	require.Contains(t, out, "task=logged")
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
