// Package metrics exposes Prometheus instrumentation for the token lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder owns a private registry with the token lifecycle collectors.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	handler         http.Handler
	operations      *prometheus.CounterVec
	persistFailures prometheus.Counter
	hydrations      *prometheus.CounterVec
	swaps           prometheus.Counter
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashauth",
		Name:      "operations_total",
		Help:      "Backend auth calls by operation (authenticate, refresh, logout) and result",
	}, []string{"operation", "result"})

	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dashauth",
		Name:      "persist_failures_total",
		Help:      "Token sets that could not be written to or cleared from persistent storage",
	})

	hydrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashauth",
		Name:      "hydrations_total",
		Help:      "Loads of the token set from persistent storage by outcome (hit, miss)",
	}, []string{"outcome"})

	swaps := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dashauth",
		Name:      "token_swaps_total",
		Help:      "Token sets swapped into the session store",
	})

	registry.MustRegister(
		operations,
		persistFailures,
		hydrations,
		swaps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Recorder{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		operations:      operations,
		persistFailures: persistFailures,
		hydrations:      hydrations,
		swaps:           swaps,
	}
}

// Handler serves the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return r.handler
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveOperation counts a backend call; err decides the result label.
func (r *Recorder) ObserveOperation(operation string, err error) {
	if r == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	r.operations.WithLabelValues(operation, result).Inc()
}

// ObservePersistFailure counts a failed storage write or delete.
func (r *Recorder) ObservePersistFailure() {
	if r == nil {
		return
	}
	r.persistFailures.Inc()
}

// ObserveHydration counts a storage load.
func (r *Recorder) ObserveHydration(hit bool) {
	if r == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.hydrations.WithLabelValues(outcome).Inc()
}

// ObserveSwap counts a token set swap.
func (r *Recorder) ObserveSwap() {
	if r == nil {
		return
	}
	r.swaps.Inc()
}
