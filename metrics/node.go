// Package metrics contains the prometheus infrastructure.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "unbond_fix"

// NodeMetrics instruments the traffic to the node and the local cache in
// front of it.
type NodeMetrics struct {
	// Counts of node requests, by RPC method and outcome.
	requests *prometheus.CounterVec

	// Latencies of node requests, by RPC method.
	latencies *prometheus.HistogramVec

	// Local cache reads, by outcome.
	cacheReads *prometheus.CounterVec
}

type CacheReadStatus string

const (
	CacheReadStatusHit      CacheReadStatus = "hit"
	CacheReadStatusMiss     CacheReadStatus = "miss"
	CacheReadStatusBadValue CacheReadStatus = "bad_value" // Value in cache could not be decoded into the requested type.
	CacheReadStatusError    CacheReadStatus = "error"
)

// NewDefaultNodeMetrics creates the node request instrumentation.
func NewDefaultNodeMetrics() *NodeMetrics {
	return &NodeMetrics{
		requests: registerOnce(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_requests_total",
				Help:      "How many node requests were made, partitioned by method and status.",
			},
			[]string{"method", "status"},
		)),
		latencies: registerOnce(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_request_duration_seconds",
				Help:      "How long node requests take, partitioned by method.",
			},
			[]string{"method"},
		)),
		cacheReads: registerOnce(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "local_cache_reads_total",
				Help:      "How many local cache reads occur, partitioned by status (hit, miss, bad_value, error).",
			},
			[]string{"status"},
		)),
	}
}

// Request returns a timer for a node request. Call the returned function
// with the request's error once it completes.
func (m *NodeMetrics) Request(method string) func(err error) {
	timer := prometheus.NewTimer(m.latencies.WithLabelValues(method))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil {
			status = "failure"
		}
		m.requests.WithLabelValues(method, status).Inc()
	}
}

// LocalCacheReads returns the counter for local cache reads with the given status.
func (m *NodeMetrics) LocalCacheReads(status CacheReadStatus) prometheus.Counter {
	return m.cacheReads.WithLabelValues(string(status))
}
