// Package telemetry wires OpenTelemetry tracing through the execution
// engine and the two external HTTP clients. A Tracer built with Disabled
// config is a nil-safe no-op, so tracing can be turned off without
// threading conditionals through call sites.
package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing is wired and under what service name.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Tracer wraps an OTel tracer and the provider that owns it, so the
// daemon can shut it down cleanly on exit.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// New builds a Tracer per cfg. When cfg.Enabled is false, the returned
// Tracer takes its spans from the global OpenTelemetry tracer provider,
// which records nothing unless a provider has been installed, and
// Shutdown does nothing.
func New(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer("mason-noop")}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "mason"
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer("mason.engine"),
		provider: provider,
	}, nil
}

// StartSpan starts a span named name and returns the derived context
// plus a function that ends the span. Satisfies engine.Tracer.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Transport wraps base with an otelhttp round tripper so every request
// made by backlogclient/qaqueue carries a span. base defaults to
// http.DefaultTransport when nil.
func (t *Tracer) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

// Shutdown flushes and releases the underlying tracer provider, if any.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
