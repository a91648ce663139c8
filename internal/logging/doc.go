// Package logging provides structured logging for loopd.
//
// It wraps Zap with:
//   - a Trace level (-2, below Debug) for prompt and stream dumps
//   - correlation fields read from the context (trace_id, run.id, item.id,
//     iteration)
//   - key and pattern based secret redaction
//   - sampling below Error, and an optional OpenTelemetry bridge
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithItemID(ctx, item.ID)
//	logger.Info(ctx, "item complete", zap.Duration("elapsed", d))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
