// Package telemetry wires OpenTelemetry tracing and metrics for almseed.
//
// Traces and metrics are exported over OTLP (grpc or http/protobuf). When
// telemetry is disabled the global no-op providers stay in place, so
// instrumented code never checks whether export is on.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("almseed/pipeline").Start(ctx, "pipeline.traceability")
//	defer span.End()
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
