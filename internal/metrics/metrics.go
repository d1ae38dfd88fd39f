package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts lifecycle commands by command and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostpanel",
		Subsystem: "lifecycle",
		Name:      "commands_total",
		Help:      "Lifecycle commands processed, by command and result.",
	}, []string{"command", "result"})

	// TransitionsTotal counts committed state transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostpanel",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Committed instance state transitions, by target state.",
	}, []string{"to"})

	// WindowRejectionsTotal counts starts denied by the access window.
	WindowRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hostpanel",
		Subsystem: "lifecycle",
		Name:      "window_rejections_total",
		Help:      "Start commands rejected because the access window was closed.",
	})

	// SyncRunsTotal counts synchronizer reconcile passes.
	SyncRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hostpanel",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Synchronizer reconcile passes.",
	})

	// SyncErrorsTotal counts runtime query failures during reconcile.
	SyncErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hostpanel",
		Subsystem: "sync",
		Name:      "errors_total",
		Help:      "Runtime status queries that failed during reconcile.",
	})

	// DriftTotal counts corrections where recorded state diverged from
	// the runtime's real status.
	DriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostpanel",
		Subsystem: "sync",
		Name:      "drift_total",
		Help:      "Drift corrections applied by the synchronizer, by kind.",
	}, []string{"kind"})
)
