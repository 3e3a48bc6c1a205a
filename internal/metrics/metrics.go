// Package metrics exposes the indexer's observability surface. The
// interface shape (RecordRPCCall / RecordScan / RecordApply / Handler)
// mirrors the chain-adapter metrics contract this service inherited, but
// is backed by the real Prometheus client library instead of a hand-rolled
// text exporter, since that's the idiomatic choice throughout this
// codebase's sibling services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the interface every chain-client, indexer and processor
// component records against. Thread-safe: all methods may be called
// concurrently.
type Metrics interface {
	// RecordRPCCall records a single JSON-RPC call with its duration and
	// outcome, labeled by method name and endpoint.
	RecordRPCCall(method, endpoint string, duration time.Duration, success bool)

	// RecordScan records one indexer scan pass: stream name, blocks
	// covered, items discovered, and whether it completed without error.
	RecordScan(stream string, blocksCovered uint64, itemsFound int, success bool)

	// RecordApply records one processor unit-of-work: function name and
	// whether it applied cleanly, was skipped, or failed fatally.
	RecordApply(functionName string, outcome ApplyOutcome)

	// Handler returns the http.Handler to mount at the metrics endpoint.
	Handler() http.Handler
}

type ApplyOutcome string

const (
	ApplyOK      ApplyOutcome = "ok"
	ApplySkipped ApplyOutcome = "skipped"
	ApplyFailed  ApplyOutcome = "failed"
)

type prometheusMetrics struct {
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	scanBlocks *prometheus.CounterVec
	scanItems  *prometheus.CounterVec
	scanErrors *prometheus.CounterVec

	applyTotal *prometheus.CounterVec

	handler http.Handler
}

// New registers the indexer's metric families against a fresh registry
// and returns a Metrics implementation backed by it.
func New() Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &prometheusMetrics{
		rpcCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeindexer",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of JSON-RPC calls, labeled by method, endpoint and outcome.",
		}, []string{"method", "endpoint", "success"}),
		rpcDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "safeindexer",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "JSON-RPC call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		scanBlocks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeindexer",
			Subsystem: "indexer",
			Name:      "blocks_scanned_total",
			Help:      "Total blocks covered by completed scan windows, labeled by stream.",
		}, []string{"stream"}),
		scanItems: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeindexer",
			Subsystem: "indexer",
			Name:      "items_found_total",
			Help:      "Total items discovered by scan windows, labeled by stream.",
		}, []string{"stream"}),
		scanErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeindexer",
			Subsystem: "indexer",
			Name:      "scan_errors_total",
			Help:      "Total failed scan passes, labeled by stream.",
		}, []string{"stream"}),
		applyTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "safeindexer",
			Subsystem: "processor",
			Name:      "apply_total",
			Help:      "Total decoded invocations applied by the processor, labeled by function and outcome.",
		}, []string{"function_name", "outcome"}),
	}

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

func (m *prometheusMetrics) RecordRPCCall(method, endpoint string, duration time.Duration, success bool) {
	m.rpcCalls.WithLabelValues(method, endpoint, boolLabel(success)).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordScan(stream string, blocksCovered uint64, itemsFound int, success bool) {
	m.scanBlocks.WithLabelValues(stream).Add(float64(blocksCovered))
	m.scanItems.WithLabelValues(stream).Add(float64(itemsFound))
	if !success {
		m.scanErrors.WithLabelValues(stream).Inc()
	}
}

func (m *prometheusMetrics) RecordApply(functionName string, outcome ApplyOutcome) {
	m.applyTotal.WithLabelValues(functionName, string(outcome)).Inc()
}

func (m *prometheusMetrics) Handler() http.Handler {
	return m.handler
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// NoOp is a Metrics implementation that records nothing, used in tests.
type NoOp struct{}

func (NoOp) RecordRPCCall(string, string, time.Duration, bool) {}
func (NoOp) RecordScan(string, uint64, int, bool)               {}
func (NoOp) RecordApply(string, ApplyOutcome)                   {}
func (NoOp) Handler() http.Handler                              { return http.NotFoundHandler() }

var _ Metrics = (*prometheusMetrics)(nil)
var _ Metrics = NoOp{}
