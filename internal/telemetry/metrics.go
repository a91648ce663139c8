package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names exported by the loop.
const (
	MetricIterations       = "loopd.iterations.total"
	MetricFailedAttempts   = "loopd.attempts.failed.total"
	MetricRecoveries       = "loopd.recovery.triggered.total"
	MetricGenerateDuration = "loopd.generate.duration.seconds"
)

// Metrics holds the loop's instruments.
type Metrics struct {
	iterations metric.Int64Counter
	failed     metric.Int64Counter
	recoveries metric.Int64Counter
	generate   metric.Float64Histogram
}

// NewMetrics registers the loop instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.iterations, err = meter.Int64Counter(MetricIterations,
		metric.WithDescription("Completed loop iterations by outcome"),
		metric.WithUnit("{iteration}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricIterations, err)
	}
	if m.failed, err = meter.Int64Counter(MetricFailedAttempts,
		metric.WithDescription("Failed attempts by failure kind"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricFailedAttempts, err)
	}
	if m.recoveries, err = meter.Int64Counter(MetricRecoveries,
		metric.WithDescription("Stuck trajectories reframed"),
		metric.WithUnit("{recovery}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricRecoveries, err)
	}
	if m.generate, err = meter.Float64Histogram(MetricGenerateDuration,
		metric.WithDescription("Wall time of generation calls"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricGenerateDuration, err)
	}
	return &m, nil
}

// Iteration counts one finished iteration.
func (m *Metrics) Iteration(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// FailedAttempt counts one failed attempt. kind is a low-cardinality label
// such as "timeout", "transport" or "gate".
func (m *Metrics) FailedAttempt(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Recovery counts one reframing.
func (m *Metrics) Recovery(ctx context.Context) {
	if m == nil {
		return
	}
	m.recoveries.Add(ctx, 1)
}

// Generate records the duration of one generation call.
func (m *Metrics) Generate(ctx context.Context, backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.generate.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("backend", backend)))
}
