// Package api defines the core vocabulary of the snapdiff engine: Task
// (a suspendable unit of work), Operation (an atomic blocking action
// performed by an executor pool), Instance (the completion handle for a
// submitted task), and Observer (lifecycle callbacks).
//
// The scheduling loop itself lives in internal/sched; workflows are
// built on this package alone.
package api
