// Package observability builds the process logger and tracer provider.
//
// Logging is zap-based: JSON in production, console output in development.
// Tracing uses OpenTelemetry with an OTLP/HTTP exporter when an endpoint is
// configured and a stdout exporter otherwise. The scheduler, orchestrator and
// send gateway start their own spans from the global provider.
package observability
