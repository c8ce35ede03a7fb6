package api

import "context"

// Instance is the handle returned by Coordinator.Submit for a top-level
// task. The coordinator fills in the terminal fields exactly once and
// closes the done channel; after that the Instance is immutable.
type Instance struct {
	ID     string
	Name   string
	Status Status

	// Output and Err carry the task's terminal result. At most one of
	// them is meaningful: Output when Status is DONE, Err when FAILED.
	Output any
	Err    error

	done chan struct{}
}

// NewInstance creates an Instance in the RUNNABLE state. It is called by
// the coordinator when a top-level task is submitted.
func NewInstance(id, name string) *Instance {
	return &Instance{
		ID:     id,
		Name:   name,
		Status: StatusRunnable,
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed once the task has finished,
// in either outcome.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Wait blocks until the task finishes or ctx is cancelled, and returns
// the terminal output and error.
func (i *Instance) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-i.done:
		return i.Output, i.Err
	}
}

// Complete marks the instance DONE with the given output and releases
// waiters. Called by the coordinator's decision loop only.
func (i *Instance) Complete(output any) {
	i.Status = StatusDone
	i.Output = output
	close(i.done)
}

// Fail marks the instance FAILED with the given error and releases
// waiters. Called by the coordinator's decision loop only.
func (i *Instance) Fail(err error) {
	i.Status = StatusFailed
	i.Err = err
	close(i.done)
}
