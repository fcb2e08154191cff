package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RetrievalMetricsMeterName is the meter schema retrieval instruments are created on
const RetrievalMetricsMeterName = "github.com/stacklok/schema-bootstrap/retrieval"

const (
	fetchDurationMetric   = "schema_bootstrap_fetch_duration_seconds"
	tagResolutionsMetric  = "schema_bootstrap_tag_resolutions_total"
	statementsAppliedName = "schema_bootstrap_statements_applied_total"
)

// RetrievalMetrics holds the instruments for schema retrieval and bootstrap.
// A nil *RetrievalMetrics is valid and records nothing.
type RetrievalMetrics struct {
	fetchDuration     metric.Float64Histogram
	tagResolutions    metric.Int64Counter
	statementsApplied metric.Int64Counter
}

// NewRetrievalMetrics creates the instruments on the given provider.
// If provider is nil, it returns nil (no-op metrics).
func NewRetrievalMetrics(provider metric.MeterProvider) (*RetrievalMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RetrievalMetricsMeterName)

	fetchDuration, err := meter.Float64Histogram(
		fetchDurationMetric,
		metric.WithDescription("Duration of schema fetches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	tagResolutions, err := meter.Int64Counter(
		tagResolutionsMetric,
		metric.WithDescription("Number of newest-tag resolutions"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, err
	}

	statementsApplied, err := meter.Int64Counter(
		statementsAppliedName,
		metric.WithDescription("Number of schema statements executed against a database"),
		metric.WithUnit("{statement}"),
	)
	if err != nil {
		return nil, err
	}

	return &RetrievalMetrics{
		fetchDuration:     fetchDuration,
		tagResolutions:    tagResolutions,
		statementsApplied: statementsApplied,
	}, nil
}

// RecordFetch records how long a fetch took and the stage it ended in
func (m *RetrievalMetrics) RecordFetch(ctx context.Context, refKind, stage string, duration time.Duration, success bool) {
	if m == nil || m.fetchDuration == nil {
		return
	}

	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("ref_kind", refKind),
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	))
}

// RecordTagResolution counts a newest-tag resolution
func (m *RetrievalMetrics) RecordTagResolution(ctx context.Context, scheme string, success bool) {
	if m == nil || m.tagResolutions == nil {
		return
	}

	m.tagResolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scheme", scheme),
		attribute.Bool("success", success),
	))
}

// RecordStatementsApplied counts statements executed by a bootstrap run
func (m *RetrievalMetrics) RecordStatementsApplied(ctx context.Context, count int, success bool) {
	if m == nil || m.statementsApplied == nil {
		return
	}

	m.statementsApplied.Add(ctx, int64(count), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}
