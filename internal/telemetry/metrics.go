// Package telemetry holds lazily-initialized OTel instruments shared across
// the query executor and ingest worker: a package-level sync.Once guards
// metric creation rather than a DI container.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	queryMetricsOnce sync.Once
	queryLatency     metric.Float64Histogram
	slowQueryCounter metric.Int64Counter

	workerMetricsOnce sync.Once
	jobsProcessed     metric.Int64Counter
	jobsFailed        metric.Int64Counter
)

func meter() metric.Meter { return otel.Meter("github.com/memoryd/memoryd") }

func initQueryMetrics() {
	m := meter()
	queryLatency, _ = m.Float64Histogram("memoryd.query.latency_ms",
		metric.WithDescription("query executor latency in milliseconds"))
	slowQueryCounter, _ = m.Int64Counter("memoryd.query.slow_total",
		metric.WithDescription("queries exceeding the 1s slow-query threshold"))
}

func initWorkerMetrics() {
	m := meter()
	jobsProcessed, _ = m.Int64Counter("memoryd.worker.jobs_processed_total")
	jobsFailed, _ = m.Int64Counter("memoryd.worker.jobs_failed_total")
}

// RecordQuery records one executor invocation's latency and, when over the
// 1s slow-query threshold, increments the slow-query counter.
func RecordQuery(ctx context.Context, kind string, d time.Duration) {
	queryMetricsOnce.Do(initQueryMetrics)
	ms := float64(d.Microseconds()) / 1000.0
	attrs := metric.WithAttributes(attrKind(kind))
	queryLatency.Record(ctx, ms, attrs)
	if d > time.Second {
		slowQueryCounter.Add(ctx, 1, attrs)
	}
}

// RecordJobProcessed increments the worker's completed-job counter.
func RecordJobProcessed(ctx context.Context) {
	workerMetricsOnce.Do(initWorkerMetrics)
	jobsProcessed.Add(ctx, 1)
}

// RecordJobFailed increments the worker's failed-job counter.
func RecordJobFailed(ctx context.Context) {
	workerMetricsOnce.Do(initWorkerMetrics)
	jobsFailed.Add(ctx, 1)
}
