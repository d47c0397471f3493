// Package tracing exports one span per scenario iteration over OTLP and
// propagates W3C trace context into the requests an iteration makes.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"

	"github.com/torosent/stampede/internal/config"
)

const (
	instrumentationName = "github.com/torosent/stampede"
	defaultServiceName  = "stampede"
)

// Session identifies the runs whose iterations a provider exports. It is
// recorded on the resource, so every span carries the run it belongs to.
type Session struct {
	RunIDs   []string
	RunNames []string
}

func (s Session) attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	switch len(s.RunIDs) {
	case 0:
	case 1:
		attrs = append(attrs,
			attribute.String("stampede.run_id", s.RunIDs[0]),
			semconv.ServiceInstanceID(s.RunIDs[0]),
		)
	default:
		attrs = append(attrs, attribute.StringSlice("stampede.run_ids", s.RunIDs))
	}
	if len(s.RunNames) > 0 {
		attrs = append(attrs, attribute.StringSlice("stampede.runs", s.RunNames))
	}
	return attrs
}

// Provider owns the tracer provider of one stampede invocation. A provider
// without an exporter hands out no-op tracers.
type Provider struct {
	tp        *sdktrace.TracerProvider
	propagate bool
}

// Init builds a provider from the tracing settings. Without an endpoint,
// either configured or in OTEL_EXPORTER_OTLP_ENDPOINT, nothing is exported.
func Init(ctx context.Context, cfg config.TracingConfig, session Session) (*Provider, error) {
	p := &Provider{propagate: cfg.ShouldPropagate()}
	if !cfg.Enabled() {
		return p, nil
	}

	sampler, err := iterationSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg, session)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

// Tracer returns the stampede tracer, or a no-op tracer when nothing is
// exported.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tp == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tp.Tracer(instrumentationName)
}

// ShouldPropagate reports whether requests carry W3C trace headers.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes buffered iteration spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// iterationSampler samples whole iterations: the decision is taken on the
// iteration span and request spans follow their parent. A rate of zero is
// the unset value and traces every iteration.
func iterationSampler(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0 and 1, got %g", rate)
	case rate == 0 || rate == 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate)), nil
	}
}

// newResource merges the OTEL_RESOURCE_ATTRIBUTES environment with the
// service name and run identity. Configured values win over the environment.
func newResource(ctx context.Context, cfg config.TracingConfig, session Session) (*resource.Resource, error) {
	opts := []resource.Option{resource.WithFromEnv()}
	attrs := session.attributes()
	switch {
	case cfg.ServiceName != "":
		attrs = append(attrs, semconv.ServiceName(cfg.ServiceName))
	default:
		// WithFromEnv applies OTEL_SERVICE_NAME after this default.
		opts = append([]resource.Option{resource.WithAttributes(semconv.ServiceName(defaultServiceName))}, opts...)
	}
	opts = append(opts, resource.WithAttributes(attrs...))
	return resource.New(ctx, opts...)
}

// newExporter picks the OTLP transport from protocol. The endpoint may be a
// host:port, which honours insecure, or a URL whose scheme decides TLS.
func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	isURL := strings.Contains(endpoint, "://")

	switch protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol)); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(defaultServiceName)),
		}
		switch {
		case isURL:
			opts = append(opts, otlptracegrpc.WithEndpointURL(endpoint))
		case endpoint != "":
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		if cfg.Insecure && !isURL {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case "http", "http/protobuf":
		var opts []otlptracehttp.Option
		switch {
		case isURL:
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		case endpoint != "":
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if cfg.Insecure && !isURL {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use grpc or http", protocol)
	}
}
