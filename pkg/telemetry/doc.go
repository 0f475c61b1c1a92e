// Package telemetry provides logging, tracing and metrics for request execution.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Telemetry value that the
// client builds at startup and hands to the engine, the transport and the
// simulated node.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
// Component loggers carry execution fields:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithExecutionID(id).WithNode("0.0.3").WithAttempt(2, 10)
//	logger.Warn("retrying after BUSY")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Each execute call opens an execution span with one child span per attempt:
//
//	ctx, span := tel.Tracer.StartExecutionSpan(ctx, "query", method, id)
//	defer span.End()
//
// Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics live in a private registry and are served by StartMetricsServer.
// Every Record method is a no-op when metrics are disabled, so callers never
// need to check.
//
//	executions_started_total{kind}
//	executions_completed_total{kind,outcome}
//	attempts_total{kind,outcome}
//	retries_total{kind,class}
//	cost_probes_total{result}
//	payments_planned_total{kind}
package telemetry
