// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package telemetry configures the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/z5labs/evhttp/lifecycle"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporters.
const (
	None   = "none"
	Stdout = "stdout"
	OTLP   = "otlp"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config selects and configures the span exporter.
type Config struct {
	ServiceName string `config:"service_name"`

	// Exporter is one of "none", "stdout" or "otlp". Empty means "none".
	Exporter string `config:"exporter" validate:"omitempty,oneof=none stdout otlp"`

	// Target is the host:port of the OTLP gRPC collector.
	Target string `config:"target" validate:"required_if=Exporter otlp,omitempty,hostname_port"`

	// Insecure disables TLS towards the collector.
	Insecure bool `config:"insecure"`

	// SampleRatio is the fraction of traces sampled. Zero samples everything.
	SampleRatio float64 `config:"sample_ratio" validate:"gte=0,lte=1"`
}

// Option configures Init.
type Option func(*options)

type options struct {
	out io.Writer
}

// Writer is where the stdout exporter writes. It defaults to [os.Stdout].
func Writer(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// Provider is an installed tracer provider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// TracerProvider returns the provider Init installed, or a noop provider
// when no exporter is configured.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tp == nil {
		return noop.NewTracerProvider()
	}
	return p.tp
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Init builds the tracer provider cfg describes and installs it, along with
// trace context and baggage propagation, as the otel globals.
func Init(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	o := &options{out: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	exporter, err := newExporter(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		return &Provider{}, nil
	}

	res, err := resource.New(
		ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, errors.Join(err, exporter.Shutdown(ctx))
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return &Provider{tp: tp}, nil
}

func newExporter(ctx context.Context, cfg Config, o *options) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", None:
		return nil, nil
	case Stdout:
		return stdouttrace.New(stdouttrace.WithWriter(o.out))
	case OTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Target)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	return nil, errors.New("telemetry: unknown exporter: " + cfg.Exporter)
}

// Manage calls Init and, when ctx carries a lifecycle.Context, shuts the
// provider down after the app returns.
func Manage(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	p, err := Init(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	lc, ok := lifecycle.FromContext(ctx)
	if ok {
		lc.OnPostRun(lifecycle.HookFunc(p.Shutdown))
	}
	return p, nil
}
