package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// ShutdownFunc flushes buffered spans.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs the global tracer provider and W3C propagator. Exporter
// failures leave tracing off rather than failing startup.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	cfg = resolve(cfg, os.Getenv)

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otlp exporter unavailable, tracing disabled", "endpoint", cfg.OTLPEndpoint, "err", err)
		return noopShutdown, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		logger.Warn("otel resource merge failed", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

// resolve fills blanks from the standard OTEL_* variables, then defaults.
func resolve(cfg Config, getenv func(string) string) Config {
	cfg.ServiceName = firstSet(cfg.ServiceName, getenv("OTEL_SERVICE_NAME"), "captionq")
	cfg.Environment = firstSet(cfg.Environment, "dev")
	cfg.OTLPEndpoint = hostPort(firstSet(cfg.OTLPEndpoint, getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "localhost:4317"))
	switch strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_INSECURE"))) {
	case "true", "1", "yes", "on":
		cfg.OTLPInsecure = true
	case "false", "0", "no", "off":
		cfg.OTLPInsecure = false
	}
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}
	return cfg
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// hostPort accepts the URL form of OTEL_EXPORTER_OTLP_ENDPOINT; the gRPC
// exporter wants host:port.
func hostPort(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

// TraceContextStrings returns traceparent and tracestate for the span in
// ctx. Baggage never leaves the process.
func TraceContextStrings(ctx context.Context) (traceParent string, traceState string) {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

// InjectHeaders writes the current span context onto outbound webhook requests.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}
