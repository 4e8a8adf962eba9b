// Package tracer sets up OpenTelemetry for the server and opens the spans
// that follow a generation: the provider call, finalization and the store.
package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "prompt2web-server"

// Span attribute keys.
const (
	AccountKey  = attribute.Key("prompt2web.account")
	ProviderKey = attribute.Key("prompt2web.provider")
	ModelKey    = attribute.Key("prompt2web.model")
	ModeKey     = attribute.Key("prompt2web.mode")
	ProjectKey  = attribute.Key("prompt2web.project.id")
	BackendKey  = attribute.Key("prompt2web.store.backend")
	FilesKey    = attribute.Key("prompt2web.files")
	FallbackKey = attribute.Key("prompt2web.fallback")
)

var svcTracer trace.Tracer = otel.Tracer(defaultServiceName)

type Config struct {
	ServiceName string
	Endpoint    string
	SampleRate  float64
	Enabled     bool
}

// Init installs the global tracer provider and returns its shutdown. With
// tracing disabled every span is a no-op.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if !cfg.Enabled {
		svcTracer = otel.Tracer(cfg.ServiceName)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Use(tp, cfg.ServiceName)
	return tp.Shutdown, nil
}

// Use switches the spans opened by this package to tp.
func Use(tp trace.TracerProvider, serviceName string) {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	svcTracer = tp.Tracer(serviceName)
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// StartGeneration opens the span covering one session run.
func StartGeneration(ctx context.Context, account, provider, mode string) (context.Context, trace.Span) {
	return svcTracer.Start(ctx, "session.Run", trace.WithAttributes(
		AccountKey.String(account),
		ProviderKey.String(provider),
		ModeKey.String(mode),
	))
}

// StartProvider opens the span for opening a provider stream.
func StartProvider(ctx context.Context, provider, model, mode string) (context.Context, trace.Span) {
	return svcTracer.Start(ctx, "ai.Stream", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		ProviderKey.String(provider),
		ModelKey.String(model),
		ModeKey.String(mode),
	))
}

// StartFinalize opens the span for parsing and bundling a finished response.
func StartFinalize(ctx context.Context) (context.Context, trace.Span) {
	return svcTracer.Start(ctx, "bundle.Finalize")
}

// StartStore opens a span for one store operation. projectID may be empty.
func StartStore(ctx context.Context, op, backend, projectID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{BackendKey.String(backend)}
	if projectID != "" {
		attrs = append(attrs, ProjectKey.String(projectID))
	}
	return svcTracer.Start(ctx, "store."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// Fail marks span as failed with err. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the current trace id, or "" outside a sampled span.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
