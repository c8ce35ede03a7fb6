package api

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusRunnable means the task's computation is eligible to run:
	// it was just submitted, or all dependencies of its latest yield
	// have completed.
	StatusRunnable Status = "RUNNABLE"

	// StatusWaiting means the task has yielded one or more dependencies
	// and at least one of them has not completed yet.
	StatusWaiting Status = "WAITING"

	StatusDone   Status = "DONE"
	StatusFailed Status = "FAILED"
)

// Task is a single unit of suspendable work. Run executes on its own
// goroutine; it suspends only at explicit calls on the TaskContext
// (Wait / WaitAll) and its return value is the task's terminal result.
//
// A Task may yield Operations (Fetch, Exec) and other Tasks. Failures
// of yielded dependencies come back as the error return of the yield
// call, exactly as if the work had been performed inline; the task
// decides locally whether to recover or to return the error upward.
type Task interface {
	Run(tc *TaskContext) (any, error)
}

// Named is implemented by tasks that want a stable name in logs and
// observer callbacks. Tasks without it are named after their Go type.
type Named interface {
	TaskName() string
}

// TaskName returns the observable name for a task.
func TaskName(t Task) string {
	if n, ok := t.(Named); ok {
		return n.TaskName()
	}
	name := fmt.Sprintf("%T", t)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// YieldFunc suspends the calling task until every yielded dependency has
// completed. It is provided by the coordinator when the task is started.
type YieldFunc func(deps []any) ([]any, error)

// TaskContext is the yield context handed to Task.Run. It carries the
// coordinator's base context (for timeouts and shutdown) and the
// suspension mechanism.
type TaskContext struct {
	// Context is the coordinator's base context. Plain computation inside
	// Run should honor it for early exit on shutdown.
	Context context.Context

	taskID string
	yield  YieldFunc
}

// NewTaskContext builds a TaskContext. It is called by the coordinator;
// tests may use it to drive a Task directly with a scripted yield.
func NewTaskContext(ctx context.Context, taskID string, yield YieldFunc) *TaskContext {
	return &TaskContext{
		Context: ctx,
		taskID:  taskID,
		yield:   yield,
	}
}

// TaskID returns the scheduler-assigned id of the running task.
func (tc *TaskContext) TaskID() string {
	return tc.taskID
}

// Wait yields a single dependency (an Operation or a Task) and suspends
// until it completes. It returns the dependency's result, or the error
// it failed with.
func (tc *TaskContext) Wait(dep any) (any, error) {
	results, err := tc.yield([]any{dep})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// WaitAll yields a collection of dependencies to run concurrently and
// suspends until ALL of them have completed. This is a join, not a race:
// one failing member fails the whole yield, but resumption is withheld
// until every member has reported back.
//
// On success, results are returned positionally in the order the
// dependencies were passed, regardless of completion order. On failure,
// the error is derived from the first failing member in that same order.
func (tc *TaskContext) WaitAll(deps ...any) ([]any, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	return tc.yield(deps)
}

// IsTask reports whether v is a dependency that should be scheduled as a
// child task rather than dispatched to an executor.
func IsTask(v any) bool {
	_, ok := v.(Task)
	return ok
}

// validDependency reports whether v can be yielded at all.
func validDependency(v any) bool {
	if v == nil || reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil() {
		return false
	}
	switch v.(type) {
	case Task, Operation:
		return true
	}
	return false
}

// ValidateDependencies returns an error naming the first unusable
// dependency in deps, or nil if all of them can be scheduled.
func ValidateDependencies(deps []any) error {
	for i, d := range deps {
		if !validDependency(d) {
			return fmt.Errorf("dependency %d is not an Operation or Task (got %T)", i, d)
		}
	}
	return nil
}
