package cmd

import (
	"context"

	"github.com/dukex/coursepipe/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NewTracer exports spans over OTLP when enabled and returns a no-op tracer otherwise.
// nolint:ireturn
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer(serviceName), nil
	}

	return otelhelper.NewTracer(ctx, serviceName)
}
