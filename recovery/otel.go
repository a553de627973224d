package recovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startRunSpan creates the root span for one recovery run.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startRunSpan(ctx context.Context, req *Request) (context.Context, trace.Span) {
	tracer := otel.Tracer("recovery")
	ctx, span := tracer.Start(ctx, "recovery.execute")
	span.SetAttributes(
		attribute.String("operation", req.Name),
		attribute.String("category", string(req.Category)),
		attribute.Int("priority", req.Priority),
	)

	return ctx, span
}

// startStrategySpan creates the child span for one strategy execution.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startStrategySpan(ctx context.Context, kind StrategyKind, req *Request) (context.Context, trace.Span) {
	tracer := otel.Tracer("recovery")
	ctx, span := tracer.Start(ctx, "strategy."+string(kind))
	span.SetAttributes(
		attribute.String("operation", req.Name),
		attribute.String("strategy", string(kind)),
	)

	return ctx, span
}
