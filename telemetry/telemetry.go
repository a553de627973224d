// Package telemetry bootstraps OpenTelemetry for the resilience stack: an
// OTLP trace pipeline feeding the spans emitted by the recovery orchestrator,
// and an OTLP log pipeline bridged into log/slog.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceName    = "amp-resilience"
	defaultServiceVersion = "1.0.0"
	defaultTimeout        = 5 * time.Second
)

var ( //nolint:gochecknoglobals
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Enabled        bool
	Timeout        time.Duration
}

// LoadConfigFromEnv loads OpenTelemetry configuration from environment
// variables. Inside Kubernetes the collector endpoint defaults to the
// cluster-local OpenTelemetry service.
func LoadConfigFromEnv(runningEnv string) *Config {
	defaultEndpoint := ""
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		defaultEndpoint = "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318"
	}

	return &Config{
		ServiceName:    envString("OTEL_SERVICE_NAME", defaultServiceName),
		ServiceVersion: envString("OTEL_SERVICE_VERSION", defaultServiceVersion),
		Environment:    runningEnv,
		Endpoint:       envString("OTEL_EXPORTER_OTLP_ENDPOINT", defaultEndpoint),
		Enabled:        envBool("OTEL_ENABLED", false),
		Timeout:        envDuration("OTEL_EXPORTER_OTLP_TIMEOUT", defaultTimeout),
	}
}

// Initialize sets up the trace and log pipelines with the given
// configuration. With telemetry disabled or no endpoint configured it is a
// no-op.
func Initialize(ctx context.Context, config *Config) error {
	if !config.Enabled {
		slog.Info("OpenTelemetry is disabled")

		return nil
	}

	if config.Endpoint == "" {
		slog.Warn("OpenTelemetry endpoint not configured, telemetry will be disabled")

		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	if err := initTraces(ctx, config, res); err != nil {
		return err
	}

	if err := initLogs(ctx, config, res); err != nil {
		return err
	}

	slog.Info("OpenTelemetry initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", config.Endpoint,
	)

	return nil
}

func initTraces(ctx context.Context, config *Config, res *resource.Resource) error {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(config.Endpoint),
		otlptracehttp.WithTimeout(config.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

func initLogs(ctx context.Context, config *Config, res *resource.Resource) error {
	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(config.Endpoint),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)

	global.SetLoggerProvider(loggerProvider)

	return nil
}

// NewLogger returns a slog.Logger bridged into the OTLP log pipeline. Before
// Initialize (or with telemetry disabled) the records go to the no-op global
// provider, so the logger is always safe to use.
func NewLogger(name string) *slog.Logger {
	return otelslog.NewLogger(name)
}

// Shutdown flushes and stops the providers.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		slog.Info("Shutting down OpenTelemetry tracer provider")

		if err := tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
	}

	if loggerProvider != nil {
		if err := loggerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown logger provider: %w", err)
		}
	}

	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}

	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}

	return parsed
}
