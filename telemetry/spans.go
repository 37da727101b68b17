// Package telemetry provides OpenTelemetry span helpers for inference
// attempts and tool executions, carrying agentId, providerId, and toolName
// attributes, and bridges the router's pulled RouterEvent stream onto span
// events. The agentrt Agent loop does not call the span helpers itself.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hearthside-labs/agentrt"
)

const scopeName = "github.com/hearthside-labs/agentrt"

// Tracer returns the package-scoped tracer from the global TracerProvider.
// Callers that never configure a provider get OTEL's no-op backend, which
// makes every span call here a safe default with or without tracing wired up.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartInferenceAttempt opens a span for one provider attempt within a
// turn's inference call. Callers must End() the returned span once the
// attempt resolves, recording the error (if any) first.
func StartInferenceAttempt(ctx context.Context, agentId agentrt.AgentId, providerId string, iteration int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "inference.attempt", trace.WithAttributes(
		attribute.String("agent.id", agentId.String()),
		attribute.String("provider.id", providerId),
		attribute.Int("turn.iteration", iteration),
	))
}

// EndInferenceAttempt records err (if any) and closes span.
func EndInferenceAttempt(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartToolExecution opens a span for one tool call within a turn.
func StartToolExecution(ctx context.Context, agentId agentrt.AgentId, toolName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("agent.id", agentId.String()),
		attribute.String("tool.name", toolName),
	))
}

// EndToolExecution records the outcome of a tool call and closes span.
func EndToolExecution(span trace.Span, result agentrt.ToolResultMsg, took time.Duration) {
	span.SetAttributes(
		attribute.Bool("tool.isError", result.IsError),
		attribute.Int64("tool.durationMs", took.Milliseconds()),
	)
	if result.IsError {
		span.SetStatus(codes.Error, result.Text)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// BridgeRouterEvents subscribes to an InferenceRouter's pulled event
// channel and records each RouterEvent as a span event on the current
// span in ctx, so router-level fallback decisions show up alongside the
// per-attempt spans above without the router importing this package.
// It returns when the router's events channel is closed or ctx is done.
func BridgeRouterEvents(ctx context.Context, router *agentrt.InferenceRouter) {
	span := trace.SpanFromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-router.Events():
			if !ok {
				return
			}
			attrs := []attribute.KeyValue{
				attribute.String("router.event", string(ev.Kind)),
				attribute.String("provider.id", ev.ProviderId),
			}
			if ev.Err != nil {
				attrs = append(attrs, attribute.String("error", ev.Err.Error()))
			}
			span.AddEvent("inference.router."+string(ev.Kind), trace.WithAttributes(attrs...))
		}
	}
}
