package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// serviceTracerName is the instrumentation name every span in this
// module is recorded under.
const serviceTracerName = "surfacescan"

// Tracer returns the global otel Tracer for this service. Like the
// teacher's own `trace.Tracer`-typed fields (e.g.
// internal/cache/intelligent_cache.go), this is constructed against
// the otel API only — no SDK/exporter is wired here. The teacher's
// own go.mod never pulls in an otel SDK or exporter either (only
// `otel`, `otel/metric`, `otel/trace`), so spans are no-ops unless a
// TracerProvider is configured by the process embedding this module
// (e.g. via OTEL_* env vars and an auto-instrumentation agent); the
// component boundaries below are where that wiring would attach.
func Tracer() trace.Tracer {
	return otel.Tracer(serviceTracerName)
}

// Meter returns the global otel Meter for this service, the
// otel/metric counterpart to Tracer. Prometheus (internal/observability's
// Metrics type) remains this service's scrape-path metrics; this is
// for instruments an embedding process wants exported through an otel
// MeterProvider instead, same no-op-until-configured posture as Tracer.
func Meter() metric.Meter {
	return otel.Meter(serviceTracerName)
}
