package api

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives callbacks from the coordinator for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay the decision loop.
type Observer interface {
	// OnTaskStart is called when a task (top-level or child) is first
	// scheduled, before its computation runs.
	OnTaskStart(ctx context.Context, taskID, name string)

	// OnTaskCompleted is called when a task reaches DONE or FAILED
	// (err != nil). duration covers the whole task lifetime including
	// time spent waiting on dependencies.
	OnTaskCompleted(ctx context.Context, taskID, name string, err error, duration time.Duration)

	// OnOperationStart is called when an operation is handed to an
	// executor pool.
	OnOperationStart(ctx context.Context, taskID, desc string)

	// OnOperationCompleted is called when an executor reports an
	// operation back, for both successes and failures (err != nil).
	OnOperationCompleted(ctx context.Context, taskID, desc string, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTaskStart(ctx context.Context, taskID, name string) {}
func (NoopObserver) OnTaskCompleted(ctx context.Context, taskID, name string, err error, d time.Duration) {
}
func (NoopObserver) OnOperationStart(ctx context.Context, taskID, desc string) {}
func (NoopObserver) OnOperationCompleted(ctx context.Context, taskID, desc string, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTaskStart(ctx context.Context, taskID, name string) {
	for _, o := range c.observers {
		o.OnTaskStart(ctx, taskID, name)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, taskID, name string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, taskID, name, err, d)
	}
}

func (c *CompositeObserver) OnOperationStart(ctx context.Context, taskID, desc string) {
	for _, o := range c.observers {
		o.OnOperationStart(ctx, taskID, desc)
	}
}

func (c *CompositeObserver) OnOperationCompleted(ctx context.Context, taskID, desc string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnOperationCompleted(ctx, taskID, desc, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs task and operation
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTaskStart(ctx context.Context, taskID, name string) {
	o.Logger.DebugContext(ctx, "task_start",
		slog.String("task_id", taskID),
		slog.String("task", name),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, taskID, name string, err error, d time.Duration) {
	if err != nil {
		o.Logger.WarnContext(ctx, "task_failed",
			slog.String("task_id", taskID),
			slog.String("task", name),
			slog.Duration("duration", d),
			slog.String("error", err.Error()),
		)
		return
	}
	o.Logger.InfoContext(ctx, "task_completed",
		slog.String("task_id", taskID),
		slog.String("task", name),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnOperationStart(ctx context.Context, taskID, desc string) {
	o.Logger.DebugContext(ctx, "operation_start",
		slog.String("task_id", taskID),
		slog.String("op", desc),
	)
}

func (o *LoggingObserver) OnOperationCompleted(ctx context.Context, taskID, desc string, err error, d time.Duration) {
	if err != nil {
		o.Logger.WarnContext(ctx, "operation_failed",
			slog.String("task_id", taskID),
			slog.String("op", desc),
			slog.Duration("duration", d),
			slog.String("error", err.Error()),
		)
		return
	}
	o.Logger.DebugContext(ctx, "operation_completed",
		slog.String("task_id", taskID),
		slog.String("op", desc),
		slog.Duration("duration", d),
	)
}
