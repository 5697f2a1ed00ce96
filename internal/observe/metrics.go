// Package observe provides application-wide observability primitives for
// DoctorApp: OpenTelemetry metrics, tracing helpers, and the HTTP middleware
// used by the optional diagnostics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so the diagnostics listener
// can expose them on /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all DoctorApp metrics.
const meterName = "github.com/MrWong99/doctorapp"

// Status values used on counters.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// StoreOperations counts persistence operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreOperations metric.Int64Counter

	// StoreDuration tracks persistence operation latency by op.
	StoreDuration metric.Float64Histogram

	// Backups counts backup snapshots by status.
	Backups metric.Int64Counter

	// BackupsPruned counts backup files removed by retention.
	BackupsPruned metric.Int64Counter

	// Recordings counts completed start/stop cycles by status.
	Recordings metric.Int64Counter

	// ActiveRecordings is 1 while a capture goroutine is running.
	ActiveRecordings metric.Int64UpDownCounter

	// TranscriptionDuration tracks speech recognition latency.
	TranscriptionDuration metric.Float64Histogram

	// RecordedSeconds tracks the length of captured dictations.
	RecordedSeconds metric.Float64Histogram

	// HTTPRequestDuration tracks diagnostics listener request time.
	HTTPRequestDuration metric.Float64Histogram
}

// storeBuckets are histogram boundaries (seconds) for local SQLite calls.
var storeBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// speechBuckets are histogram boundaries (seconds) for offline recognition
// and dictation length.
var speechBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StoreOperations, err = m.Int64Counter("doctorapp.store.operations",
		metric.WithDescription("Total persistence operations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("doctorapp.store.duration",
		metric.WithDescription("Latency of persistence operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(storeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Backups, err = m.Int64Counter("doctorapp.backup.snapshots",
		metric.WithDescription("Total backup snapshots by status."),
	); err != nil {
		return nil, err
	}
	if met.BackupsPruned, err = m.Int64Counter("doctorapp.backup.pruned",
		metric.WithDescription("Total backup files removed by retention."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("doctorapp.speech.recordings",
		metric.WithDescription("Total dictation cycles by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("doctorapp.speech.active_recordings",
		metric.WithDescription("Number of running capture goroutines."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("doctorapp.speech.transcription.duration",
		metric.WithDescription("Latency of offline speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordedSeconds, err = m.Float64Histogram("doctorapp.speech.recorded",
		metric.WithDescription("Length of captured dictation audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("doctorapp.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStoreOp records one persistence operation with its latency.
func (m *Metrics) RecordStoreOp(ctx context.Context, op, status string, seconds float64) {
	m.StoreOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
	m.StoreDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}

// RecordBackup records one backup attempt and the number of pruned files.
func (m *Metrics) RecordBackup(ctx context.Context, status string, pruned int) {
	m.Backups.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if pruned > 0 {
		m.BackupsPruned.Add(ctx, int64(pruned))
	}
}

// RecordRecording records the outcome of one start/stop dictation cycle.
func (m *Metrics) RecordRecording(ctx context.Context, status string) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Status maps ok to [StatusOK] or [StatusError].
func Status(ok bool) string {
	if ok {
		return StatusOK
	}
	return StatusError
}
