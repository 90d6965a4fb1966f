package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics covering the golden signals:
// latency (HTTP/job durations), traffic (request/job counters), errors
// (failure counters), saturation (active jobs, queue depth).
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Training job metrics
	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64UpDownCounter

	// Queue bridge metrics
	QueueDepth   metric.Int64Gauge
	QueueRetries metric.Int64Counter
	QueueDropped metric.Int64Counter

	// Node registry metrics
	NodeHeartbeats metric.Int64Counter
	NodesLive      metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("trainforge")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"training_job_duration_seconds",
		metric.WithDescription("Training job duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(10, 30, 60, 300, 900, 1800, 3600, 7200, 14400, 28800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"training_jobs_total",
		metric.WithDescription("Total number of training jobs dispatched"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"training_job_errors_total",
		metric.WithDescription("Total number of failed training jobs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"training_jobs_active",
		metric.WithDescription("Number of currently running training jobs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueueDepth, err = meter.Int64Gauge(
		"queue_depth",
		metric.WithDescription("Current number of jobs waiting in the dispatch queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueueRetries, err = meter.Int64Counter(
		"queue_retries_total",
		metric.WithDescription("Total retry attempts for transient job failures"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueueDropped, err = meter.Int64Counter(
		"queue_dropped_total",
		metric.WithDescription("Total dispatch requests rejected because the queue was full"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NodeHeartbeats, err = meter.Int64Counter(
		"node_heartbeats_total",
		metric.WithDescription("Total heartbeats received from training nodes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NodesLive, err = meter.Int64Gauge(
		"nodes_live",
		metric.WithDescription("Number of training nodes currently within the liveness window"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobDispatched records a new training job entering the system.
func (m *Metrics) RecordJobDispatched(ctx context.Context, architecture, target string) {
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(archAttr(architecture), targetAttr(target)))
}

// RecordJobStarted records a job beginning execution.
func (m *Metrics) RecordJobStarted(ctx context.Context, architecture string) {
	m.JobsActive.Add(ctx, 1, metric.WithAttributes(archAttr(architecture)))
}

// RecordJobFinished records a job reaching a terminal state.
func (m *Metrics) RecordJobFinished(ctx context.Context, architecture string, success bool, durationSeconds float64) {
	m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(archAttr(architecture), successAttr(success)))
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(archAttr(architecture)))

	if !success {
		m.JobErrorsTotal.Add(ctx, 1, metric.WithAttributes(archAttr(architecture)))
	}
}

// RecordQueueDepth records the current dispatch queue depth.
func (m *Metrics) RecordQueueDepth(ctx context.Context, depth int64) {
	m.QueueDepth.Record(ctx, depth)
}

// RecordQueueRetry records a retry attempt after a transient failure.
func (m *Metrics) RecordQueueRetry(ctx context.Context) {
	m.QueueRetries.Add(ctx, 1)
}

// RecordQueueDropped records a dispatch rejected due to a full queue.
func (m *Metrics) RecordQueueDropped(ctx context.Context) {
	m.QueueDropped.Add(ctx, 1)
}

// RecordNodeHeartbeat records a heartbeat from a training node.
func (m *Metrics) RecordNodeHeartbeat(ctx context.Context) {
	m.NodeHeartbeats.Add(ctx, 1)
}

// RecordNodesLive records the current number of live nodes.
func (m *Metrics) RecordNodesLive(ctx context.Context, n int64) {
	m.NodesLive.Record(ctx, n)
}
