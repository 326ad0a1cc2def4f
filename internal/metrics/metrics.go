// Package metrics exposes the Prometheus instrumentation surface of
// SPEC_FULL.md §11: counters for service operations, a histogram of
// lock-wait duration, a gauge of currently-held locks, and a counter of
// replication/invalidation events. Naming follows the
// Namespace/Subsystem/Name convention used throughout
// datastore/postgres/store_metrics.go in the quay/claircore example
// (promauto.NewCounterVec/NewHistogramVec registering directly against
// the default registry).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicolagi/dfs/internal/apierr"
)

var (
	// ServiceOps counts naming-server service calls by method and outcome
	// ("ok" or an apierr.Kind string). Storage-server command-layer calls
	// are counted by StorageCommandOps instead.
	ServiceOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfs",
		Subsystem: "service",
		Name:      "operations_total",
		Help:      "Count of service operations by method and outcome.",
	}, []string{"method", "outcome"})

	// LockWaitSeconds measures how long a lock acquisition took, by mode.
	LockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dfs",
		Subsystem: "pathlock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting to acquire a path lock, by mode.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// LocksHeld is a gauge of currently-granted path locks, by mode: each
	// granted lock counts once, so several shared holders of one path
	// count several times.
	LocksHeld = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dfs",
		Subsystem: "pathlock",
		Name:      "held",
		Help:      "Number of path locks currently held, by mode.",
	}, []string{"mode"})

	// ReplicationEvents counts replication and invalidation decisions made
	// by the lock manager's access-accounting policy (§4.D).
	ReplicationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfs",
		Subsystem: "replication",
		Name:      "events_total",
		Help:      "Count of replication and invalidation events, by kind.",
	}, []string{"kind"})

	// StorageCommandOps counts storage-server command-layer calls by
	// method and outcome.
	StorageCommandOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfs",
		Subsystem: "storage",
		Name:      "command_operations_total",
		Help:      "Count of storage command-layer operations by method and outcome.",
	}, []string{"method", "outcome"})
)

// Outcome maps an error to the label ServiceOps/StorageCommandOps expect:
// "ok" on success, else the apierr.Kind string, falling back to
// "transport" for an unrecognized error so instrumentation never panics
// on an unfamiliar error type.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := apierr.KindOf(err); ok {
		return string(kind)
	}
	return "transport"
}
