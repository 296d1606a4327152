package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options controls the process-wide tracer provider. A zero
// SampleRatio means sample everything; values are clamped to [0, 1].
// Child spans always follow their parent's sampling decision.
type Options struct {
	ServiceName string
	Version     string
	SampleRatio float64
}

var (
	setupMu  sync.Mutex
	provider *sdktrace.TracerProvider
)

// Setup installs the OpenTelemetry tracer provider. Until it runs,
// StartSpan hands out no-op spans, so session-only commands can skip
// tracing entirely. A second call is a no-op.
func Setup(opts Options) error {
	setupMu.Lock()
	defer setupMu.Unlock()
	if provider != nil {
		return nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = "mika"
	}
	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	)
	provider = tp
	otel.SetTracerProvider(tp)
	return nil
}

// Shutdown flushes and stops the tracer provider installed by Setup.
// Safe to call when Setup never ran.
func Shutdown(ctx context.Context) error {
	setupMu.Lock()
	tp := provider
	provider = nil
	setupMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span on the named tracer and mirrors its trace id
// into the context so log lines and spans correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}
