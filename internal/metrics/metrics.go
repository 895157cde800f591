// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	// OperationsTotal counts delivered operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talk_operations_total",
		Help: "Total number of delivered ledger operations",
	}, []string{"op", "result"})

	// CheckTxTotal counts mempool admission checks by outcome.
	CheckTxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talk_checktx_total",
		Help: "Total number of CheckTx calls",
	}, []string{"result"})

	// DeliverDuration records how long a DeliverTx takes per operation.
	DeliverDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talk_deliver_duration_seconds",
		Help:    "Duration of DeliverTx by operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// BlockHeight is the last committed height.
	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "talk_block_height",
		Help: "Last committed block height",
	})

	// EventSubscribers is the number of connected event stream clients.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "talk_event_subscribers",
		Help: "Number of connected event stream clients",
	})

	// EventDrops counts events not delivered to a slow subscriber.
	EventDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talk_event_drops_total",
		Help: "Total number of events dropped for slow subscribers",
	})
)

// ObserveDeliver records one delivered operation.
func ObserveDeliver(op, result string, started time.Time) {
	OperationsTotal.WithLabelValues(op, result).Inc()
	DeliverDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
