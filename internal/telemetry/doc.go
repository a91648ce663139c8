// Package telemetry provides OpenTelemetry tracing and metrics for loopd.
//
// Export is off by default. When enabled, spans and metrics go to an OTLP
// collector over gRPC or HTTP:
//
//	telemetry:
//	  enabled: true
//	  endpoint: localhost:4317
//	  protocol: grpc
//	  sample_rate: 1.0
//
// Usage:
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	metrics, err := telemetry.NewMetrics(tel.Meter("loopd"))
//
// Tests use NewTestTelemetry, which records into memory.
package telemetry
