// Package telemetry sets up the OpenTelemetry tracer provider shared by
// the agent runtime, the ReAct executor, and the HTTP API — one tracing
// scope per process, exported over OTLP/HTTP when an endpoint is
// configured and a no-op tracer otherwise, modeled on zkoranges-go-claw's
// internal/otel.Init (enable-flag-gated provider with zero-overhead
// no-op fallback).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// ScopeName is the instrumentation scope every component under this
// module starts spans against.
const ScopeName = "github.com/codeready-toolchain/scout"

// Config controls whether and where traces are exported. Endpoint empty
// means tracing is disabled; the returned Provider's Tracer is then a
// no-op so call sites never branch on whether telemetry is enabled.
type Config struct {
	Endpoint    string
	ServiceName string
}

// Provider owns the process-wide tracer and its shutdown.
type Provider struct {
	Tracer trace.Tracer

	tp *sdktrace.TracerProvider
}

// Init builds a Provider from cfg. A nil or empty Endpoint yields a
// no-op tracer with nothing to export and nothing to shut down.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return &Provider{Tracer: nooptrace.NewTracerProvider().Tracer(ScopeName)}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "scout"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &Provider{Tracer: tp.Tracer(ScopeName), tp: tp}, nil
}

// Shutdown flushes pending spans. A no-op Provider (tp == nil) returns
// nil immediately.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
