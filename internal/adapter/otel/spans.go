// Package otel provides tracing and metrics instruments for Relay.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "relay"

// StartPipelineSpan starts a span covering one end-to-end pipeline run.
func StartPipelineSpan(ctx context.Context, deploymentID, repoURL string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline",
		trace.WithAttributes(
			attribute.String("deployment.id", deploymentID),
			attribute.String("repo.url", repoURL),
		),
	)
}

// StartStageSpan starts a span for one pipeline stage.
func StartStageSpan(ctx context.Context, deploymentID, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage",
		trace.WithAttributes(
			attribute.String("deployment.id", deploymentID),
			attribute.String("stage.name", stage),
		),
	)
}

// StartProbeSpan starts a span for a single deployment health probe.
func StartProbeSpan(ctx context.Context, url string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "probe",
		trace.WithAttributes(
			attribute.String("probe.url", url),
			attribute.Int("probe.attempt", attempt),
		),
	)
}
