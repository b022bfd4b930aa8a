package otel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	defaultEndpoint       = "localhost:4318"
	defaultExportInterval = 15 * time.Second
	defaultBatchTimeout   = 2 * time.Second
)

// Config describes where the service ships traces and metrics.
type Config struct {
	ServiceName string
	Environment string

	// Endpoint is host:port of the OTLP/HTTP collector. An http:// prefix
	// implies Insecure.
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Metrics  bool
	Traces   bool

	// SampleRatio is the fraction of root spans recorded. Zero or anything
	// above one samples every trace.
	SampleRatio    float64
	ExportInterval time.Duration
	BatchTimeout   time.Duration

	// Attributes are added to the resource, e.g. the reserve's strategy kind.
	Attributes map[string]string
}

// ShutdownFunc flushes and stops the providers installed by Init.
type ShutdownFunc func(context.Context) error

// ApplyEnv overlays the standard OTEL_EXPORTER_OTLP_* variables read through
// lookup. Unparseable values are ignored.
func (c Config) ApplyEnv(lookup func(string) (string, bool)) Config {
	if lookup == nil {
		return c
	}
	if value, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && strings.TrimSpace(value) != "" {
		c.Endpoint = strings.TrimSpace(value)
	}
	if value, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			c.Insecure = parsed
		}
	}
	if value, ok := lookup("OTEL_EXPORTER_OTLP_HEADERS"); ok {
		extra := ParseHeaders(value)
		if len(extra) > 0 {
			merged := make(map[string]string, len(c.Headers)+len(extra))
			for k, v := range c.Headers {
				merged[k] = v
			}
			for k, v := range extra {
				merged[k] = v
			}
			c.Headers = merged
		}
	}
	return c
}

func (c Config) normalized() (Config, error) {
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		return c, fmt.Errorf("service name required for telemetry")
	}
	endpoint := strings.TrimSpace(c.Endpoint)
	switch {
	case endpoint == "":
		endpoint = defaultEndpoint
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		c.Insecure = true
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}
	c.Endpoint = strings.TrimSuffix(endpoint, "/")
	if c.ExportInterval <= 0 {
		c.ExportInterval = defaultExportInterval
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	return c, nil
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func (c Config) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(c.ServiceName)}
	if c.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(c.Environment))
	}
	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, c.Attributes[k]))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func (c Config) tracerProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.Endpoint)}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(c.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(c.sampler()),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(c.BatchTimeout)),
	), nil
}

func (c Config) meterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(c.Endpoint)}
	if c.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(c.Headers))
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(c.ExportInterval))),
	), nil
}

// Init installs the global tracer and meter providers selected by cfg plus
// the W3C propagators. The returned function must run during teardown.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	var stops []ShutdownFunc
	if cfg.Traces {
		tp, err := cfg.tracerProvider(ctx, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}
	if cfg.Metrics {
		mp, err := cfg.meterProvider(ctx, res)
		if err != nil {
			_ = joinShutdown(stops)(ctx)
			return nil, err
		}
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return joinShutdown(stops), nil
}

// joinShutdown stops providers in reverse order of installation and reports
// every failure.
func joinShutdown(stops []ShutdownFunc) ShutdownFunc {
	return func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// ParseHeaders converts "key=value,foo=bar" into a header map. Pairs without
// a key or an equals sign are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
