package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of statmill spans.
const tracerName = "statmill"

// StartPhase opens a span around a pipeline phase (a fetch pass, a crawl
// session, an analyze/prune/snapshot step). Without an SDK installed the
// global provider is a no-op, so callers never need to guard this.
func StartPhase(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
