package vm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Runtime counters, registered on the default Prometheus registry.
var (
	assumptionsInvalidated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keel",
		Subsystem: "vm",
		Name:      "assumptions_invalidated_total",
		Help:      "Assumptions that have been invalidated.",
	})

	dependenciesRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keel",
		Subsystem: "vm",
		Name:      "dependencies_registered_total",
		Help:      "Dependency slots handed out by assumptions.",
	})

	deadEntriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keel",
		Subsystem: "vm",
		Name:      "dead_entries_swept_total",
		Help:      "Dead dependency entries removed during compaction.",
	})

	deoptimizations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keel",
		Subsystem: "vm",
		Name:      "deoptimizations_total",
		Help:      "Installed code artifacts invalidated by an assumption.",
	})

	compilations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keel",
		Subsystem: "vm",
		Name:      "compilations_total",
		Help:      "Speculative compilations that produced installed code.",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keel",
		Subsystem: "vm",
		Name:      "code_cache_evictions_total",
		Help:      "Installed code artifacts evicted from the code cache.",
	})
)
