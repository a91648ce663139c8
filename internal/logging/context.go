package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	runCtxKey       struct{}
	itemCtxKey      struct{}
	iterationCtxKey struct{}
	loggerCtxKey    struct{}
)

// ContextFields extracts correlation data from ctx: the active span, the
// run id, the work item in flight and the iteration number.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if id := ItemIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("item.id", id))
	}
	if n, ok := IterationFromContext(ctx); ok {
		fields = append(fields, zap.Int("iteration", n))
	}
	return fields
}

// WithRunID tags ctx with the id of the current `loopd run` invocation.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// WithItemID tags ctx with the work item being executed.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemCtxKey{}, id)
}

// ItemIDFromContext returns the work item id, or "".
func ItemIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(itemCtxKey{}).(string)
	return id
}

// WithIteration tags ctx with the 1-based iteration number.
func WithIteration(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, iterationCtxKey{}, n)
}

// IterationFromContext returns the iteration number if one is set.
func IterationFromContext(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(iterationCtxKey{}).(int)
	return n, ok
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored by WithLogger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
