package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce               sync.Once
	mutationsTotal             *prometheus.CounterVec
	rollbacksTotal             *prometheus.CounterVec
	staleResolutionsTotal      prometheus.Counter
	scopeFetchesTotal          *prometheus.CounterVec
	staleScopeDiscardsTotal    prometheus.Counter
	conversationsResolvedTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the sync layer.
func RegisterMetrics() {
	registerOnce.Do(func() {
		mutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_mutations_total",
			Help: "Total optimistic mutations issued, by kind and outcome.",
		}, []string{"kind", "outcome"})

		rollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_rollbacks_total",
			Help: "Total optimistic projections reverted after a gateway failure.",
		}, []string{"kind"})

		staleResolutionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engage_stale_resolutions_total",
			Help: "Gateway resolutions discarded because a newer local projection exists.",
		})

		scopeFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_scope_fetches_total",
			Help: "Scope activations by result (hit, fetch, error).",
		}, []string{"result"})

		staleScopeDiscardsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engage_stale_scope_discards_total",
			Help: "Scope fetch results discarded because the scope changed mid-flight.",
		})

		conversationsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_conversations_resolved_total",
			Help: "Directory conversation resolutions, by mode (existing, created, shared).",
		}, []string{"mode"})

		prometheus.MustRegister(
			mutationsTotal,
			rollbacksTotal,
			staleResolutionsTotal,
			scopeFetchesTotal,
			staleScopeDiscardsTotal,
			conversationsResolvedTotal,
		)
	})
}

// Mutations exposes the optimistic mutation counter.
func Mutations() *prometheus.CounterVec {
	RegisterMetrics()
	return mutationsTotal
}

// Rollbacks exposes the rollback counter.
func Rollbacks() *prometheus.CounterVec {
	RegisterMetrics()
	return rollbacksTotal
}

// StaleResolutions exposes the counter for discarded out-of-order resolutions.
func StaleResolutions() prometheus.Counter {
	RegisterMetrics()
	return staleResolutionsTotal
}

// ScopeFetches exposes the scope activation counter.
func ScopeFetches() *prometheus.CounterVec {
	RegisterMetrics()
	return scopeFetchesTotal
}

// StaleScopeDiscards exposes the counter for mid-flight scope switches.
func StaleScopeDiscards() prometheus.Counter {
	RegisterMetrics()
	return staleScopeDiscardsTotal
}

// ConversationsResolved exposes the directory resolution counter.
func ConversationsResolved() *prometheus.CounterVec {
	RegisterMetrics()
	return conversationsResolvedTotal
}
