package cmd

import (
	"context"
	"fmt"

	"github.com/dukex/weave/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns the OTLP tracer when enabled and a no-op tracer otherwise. The
// returned shutdown func is never nil.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}
