// Package kernelobs wraps pkg/interceptor with OpenTelemetry tracing and
// RED-style metrics so an operator can see, per action kind, how often
// the kernel allows, denies, warns on budget, or times out waiting for
// approval -- without the interceptor package itself taking a dependency
// on any particular observability backend.
package kernelobs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/helm/core/pkg/action"
	"github.com/Mindburn-Labs/helm/core/pkg/interceptor"
	"github.com/Mindburn-Labs/helm/core/pkg/kernelerrors"
)

// Config configures the OTLP trace and metric exporters backing an
// Observer. Both share the same endpoint and transport security setting.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	Enabled      bool
}

// DefaultConfig returns a disabled configuration: tracing and metrics are
// opt-in, never a silent dependency of a caller that just wants Intercept.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "helm-trust-kernel",
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		Enabled:      false,
	}
}

// Observer instruments Interceptor.Intercept calls.
type Observer struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	decisions     metric.Int64Counter
	budgetWarn    metric.Int64Counter
	approvalWait  metric.Float64Histogram
	chainFailures metric.Int64Counter
}

// New builds an Observer. When cfg.Enabled is false, New returns an
// Observer whose Intercept is a plain passthrough -- no exporter is created and
// no network connection is attempted.
func New(ctx context.Context, cfg Config) (*Observer, error) {
	o := &Observer{tracer: otel.Tracer("helm.trust-kernel")}

	if !cfg.Enabled {
		return o, nil
	}

	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("helm.component", "trust-kernel"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("kernelobs: build resource: %w", err)
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("kernelobs: create trace exporter: %w", err)
	}

	o.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(o.tracerProvider)
	o.tracer = o.tracerProvider.Tracer("helm.trust-kernel")

	metricExporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		metricExporterOpts = append(metricExporterOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricExporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("kernelobs: create metric exporter: %w", err)
	}
	o.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(o.meterProvider)
	o.meter = o.meterProvider.Meter("helm.trust-kernel")
	if o.decisions, err = o.meter.Int64Counter("helm.kernel.decisions",
		metric.WithDescription("Intercept decisions by action kind and proof kind")); err != nil {
		return nil, err
	}
	if o.budgetWarn, err = o.meter.Int64Counter("helm.kernel.budget_warnings",
		metric.WithDescription("Intercept calls that returned a budget warning")); err != nil {
		return nil, err
	}
	if o.approvalWait, err = o.meter.Float64Histogram("helm.kernel.approval_wait_seconds",
		metric.WithDescription("Wall-clock time spent waiting on Intercept")); err != nil {
		return nil, err
	}
	if o.chainFailures, err = o.meter.Int64Counter("helm.kernel.audit_chain_failures",
		metric.WithDescription("Audit chain verification failures detected at startup")); err != nil {
		return nil, err
	}

	return o, nil
}

// Shutdown flushes and closes the trace and metric exporters, if any were
// created.
func (o *Observer) Shutdown(ctx context.Context) error {
	if o.tracerProvider == nil {
		return nil
	}
	if err := o.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	if o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}

// Intercept wraps ic.Intercept with a span and the kernel decision
// metrics, using the same signature so it is a drop-in call site.
func (o *Observer) Intercept(ctx context.Context, ic *interceptor.Interceptor, callCtx interceptor.Context, a action.SensitiveAction, costCents *int64) (interceptor.Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "kernel.intercept",
		trace.WithAttributes(
			attribute.String("helm.action.kind", string(a.Kind)),
			attribute.String("helm.action.uri", a.CanonicalURI()),
			attribute.String("helm.session_id", callCtx.SessionID),
		),
	)
	defer span.End()

	start := time.Now()
	outcome, err := ic.Intercept(ctx, callCtx, a, costCents)
	elapsed := time.Since(start).Seconds()

	if o.approvalWait != nil {
		o.approvalWait.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("helm.action.kind", string(a.Kind)),
		))
	}

	if err != nil {
		span.RecordError(err)
		if o.decisions != nil {
			o.decisions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("helm.action.kind", string(a.Kind)),
				attribute.String("helm.decision", "denied"),
				attribute.String("helm.deny_kind", string(kernelerrors.KindOf(err))),
			))
		}
		return outcome, err
	}

	if o.decisions != nil {
		o.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("helm.action.kind", string(a.Kind)),
			attribute.String("helm.decision", "allowed"),
			attribute.String("helm.proof_kind", string(outcome.Proof.Kind)),
		))
	}
	if outcome.BudgetWarning != nil && o.budgetWarn != nil {
		o.budgetWarn.Add(ctx, 1, metric.WithAttributes(
			attribute.String("helm.action.kind", string(a.Kind)),
		))
	}

	return outcome, nil
}

// RecordChainFailure records an audit chain verification failure detected
// at startup, before any Interceptor exists to wrap.
func (o *Observer) RecordChainFailure(ctx context.Context, reason string) {
	if o.chainFailures == nil {
		return
	}
	o.chainFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
