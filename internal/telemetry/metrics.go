package telemetry

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const defaultMetricExportInterval = 60 * time.Second

var (
	metricsMutex        sync.RWMutex
	globalMeterProvider *sdkmetric.MeterProvider
	globalMeter         metric.Meter
	metricsEnabled      bool
	enabledMetricGroups map[string]bool

	toolCallsCounter      metric.Int64Counter
	toolDurationHistogram metric.Float64Histogram
	toolErrorsCounter     metric.Int64Counter

	activeSessionsGauge  metric.Int64UpDownCounter
	sessionDurationHist  metric.Float64Histogram
	sessionToolCountHist metric.Int64Histogram

	cacheOpsCounter metric.Int64Counter

	patchRunsCounter      metric.Int64Counter
	patchAccuracyHist     metric.Float64Histogram
	snapshotWritesCounter metric.Int64Counter
)

// InitMetrics configures the meter provider. Call after InitTracer; it shares
// the OTLP endpoint and protocol settings. MCP_METRICS_GROUPS selects groups
// (tool, session, cache, patch) and defaults to tool, session and patch.
func InitMetrics(logger *logrus.Logger) (func() error, error) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	enabledMetricGroups = parseList(os.Getenv("MCP_METRICS_GROUPS"))
	if len(enabledMetricGroups) == 0 {
		enabledMetricGroups = map[string]bool{"tool": true, "session": true, "patch": true}
	}

	noopShutdown := func() error { return nil }
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" || strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		logger.Debug("OTEL Metrics: Not configured, using noop meter")
		metricsEnabled = false
		globalMeter = otel.GetMeterProvider().Meter(instrumentationName)
		return noopShutdown, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch protocol := getOTLPProtocol(); protocol {
	case "grpc":
		exporter, err = otlpmetricgrpc.New(ctx)
	case "http/protobuf", "http":
		exporter, err = otlpmetrichttp.New(ctx)
	default:
		logger.WithField("protocol", protocol).Warn("OTEL Metrics: Unknown protocol, defaulting to http")
		exporter, err = otlpmetrichttp.New(ctx)
	}
	if err != nil {
		metricsEnabled = false
		globalMeter = otel.GetMeterProvider().Meter(instrumentationName)
		return noopShutdown, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(getMetricExportInterval(logger)),
		)),
		sdkmetric.WithResource(newResource(ctx, logger)),
	)
	otel.SetMeterProvider(provider)
	globalMeterProvider = provider
	globalMeter = provider.Meter(instrumentationName)

	if err := initMetricInstruments(globalMeter, enabledMetricGroups); err != nil {
		metricsEnabled = false
		logger.WithError(err).Error("OTEL Metrics: Failed to initialise instruments")
		return noopShutdown, err
	}
	metricsEnabled = true
	logger.WithField("endpoint", endpoint).Info("OTEL Metrics: Meter initialised")

	return func() error {
		metricsMutex.Lock()
		defer metricsMutex.Unlock()
		if globalMeterProvider == nil {
			return nil
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return globalMeterProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetricInstruments creates the instruments for each enabled group.
// Callers hold metricsMutex.
func initMetricInstruments(meter metric.Meter, groups map[string]bool) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error

	if groups["tool"] {
		toolCallsCounter, err = meter.Int64Counter("mcp.tool.calls",
			metric.WithDescription("Total tool invocations"),
			metric.WithUnit("{call}"))
		collect(err)
		toolDurationHistogram, err = meter.Float64Histogram("mcp.tool.duration",
			metric.WithDescription("Tool execution duration"),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000))
		collect(err)
		toolErrorsCounter, err = meter.Int64Counter("mcp.tool.errors",
			metric.WithDescription("Tool execution errors by type"),
			metric.WithUnit("{error}"))
		collect(err)
	}

	if groups["session"] {
		activeSessionsGauge, err = meter.Int64UpDownCounter("mcp.session.active",
			metric.WithDescription("Active concurrent sessions"),
			metric.WithUnit("{session}"))
		collect(err)
		sessionDurationHist, err = meter.Float64Histogram("mcp.session.duration",
			metric.WithDescription("Session duration"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(10, 30, 60, 300, 600, 1800, 3600, 7200))
		collect(err)
		sessionToolCountHist, err = meter.Int64Histogram("mcp.session.tool_count",
			metric.WithDescription("Number of tools executed per session"),
			metric.WithUnit("{tool}"),
			metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 50, 100, 200))
		collect(err)
	}

	if groups["cache"] {
		cacheOpsCounter, err = meter.Int64Counter("cache.operations",
			metric.WithDescription("Cache operations"),
			metric.WithUnit("{operation}"))
		collect(err)
	}

	if groups["patch"] {
		patchRunsCounter, err = meter.Int64Counter("patch.runs",
			metric.WithDescription("Patch engine runs by method and outcome"),
			metric.WithUnit("{run}"))
		collect(err)
		patchAccuracyHist, err = meter.Float64Histogram("patch.fuzzy.accuracy",
			metric.WithDescription("Accuracy of fuzzy find matches"),
			metric.WithUnit("%"),
			metric.WithExplicitBucketBoundaries(50, 60, 70, 80, 90, 95, 99, 100))
		collect(err)
		snapshotWritesCounter, err = meter.Int64Counter("snapshot.writes",
			metric.WithDescription("Snapshots written before commits and restores"),
			metric.WithUnit("{snapshot}"))
		collect(err)
	}

	return errors.Join(errs...)
}

func IsMetricsEnabled() bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return metricsEnabled
}

func isMetricGroupEnabled(group string) bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return metricsEnabled && enabledMetricGroups[group]
}

// RecordToolCall records a tool invocation and its duration.
func RecordToolCall(ctx context.Context, toolName, transport string, success bool, durationMs float64) {
	if !isMetricGroupEnabled("tool") {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	if toolCallsCounter != nil {
		toolCallsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("transport", transport),
			attribute.String("result", result),
		))
	}
	if toolDurationHistogram != nil {
		toolDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("transport", transport),
		))
	}
}

// RecordToolError records an error category produced by CategoriseToolError.
func RecordToolError(ctx context.Context, toolName, errorType string) {
	if !isMetricGroupEnabled("tool") || toolErrorsCounter == nil {
		return
	}
	toolErrorsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("error.type", errorType),
	))
}

// CategoriseToolError maps an error to a low-cardinality label.
func CategoriseToolError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "dial tcp"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return "network"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "not authenticated"), strings.Contains(msg, "oauth2"), strings.Contains(msg, "error 401"), strings.Contains(msg, "error 403"):
		return "auth"
	case strings.Contains(msg, "remote store"), strings.Contains(msg, "googleapi"):
		return "external_api"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"), strings.Contains(msg, "required"):
		return "validation"
	default:
		return "internal"
	}
}

func RecordSessionStart(ctx context.Context, transport string) {
	if !isMetricGroupEnabled("session") || activeSessionsGauge == nil {
		return
	}
	activeSessionsGauge.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordSessionEnd decrements active sessions and records duration and tool count.
func RecordSessionEnd(ctx context.Context, transport string, durationSeconds float64, toolCount int64) {
	if !isMetricGroupEnabled("session") {
		return
	}
	attrs := metric.WithAttributes(attribute.String("transport", transport))
	if activeSessionsGauge != nil {
		activeSessionsGauge.Add(ctx, -1, attrs)
	}
	if sessionDurationHist != nil {
		sessionDurationHist.Record(ctx, durationSeconds, attrs)
	}
	if sessionToolCountHist != nil {
		sessionToolCountHist.Record(ctx, toolCount, attrs)
	}
}

// RecordCacheOperation records a hit or miss against a named cache.
func RecordCacheOperation(ctx context.Context, cacheName, operation string, hit bool) {
	if !isMetricGroupEnabled("cache") || cacheOpsCounter == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", cacheName),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

// RecordPatch records one patch engine run. Accuracy is only recorded for
// fuzzy runs, where it is meaningful.
func RecordPatch(ctx context.Context, p PatchAttributes) {
	if !isMetricGroupEnabled("patch") {
		return
	}
	result := "success"
	switch {
	case !p.Success:
		result = "failure"
	case !p.SyntaxOK:
		result = "syntax_error"
	}
	if patchRunsCounter != nil {
		patchRunsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", p.Method),
			attribute.String("result", result),
			attribute.Bool("dry_run", p.DryRun),
		))
	}
	if patchAccuracyHist != nil && p.Method == "fuzzy" && p.Success {
		patchAccuracyHist.Record(ctx, p.Accuracy)
	}
	if snapshotWritesCounter != nil && p.SnapshotID != "" {
		snapshotWritesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("method", p.Method)))
	}
}

func getMetricExportInterval(logger *logrus.Logger) time.Duration {
	raw := os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")
	if raw == "" {
		return defaultMetricExportInterval
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if d, err := time.ParseDuration(raw + "s"); err == nil {
		return d
	}
	logger.WithField("interval", raw).Warn("OTEL Metrics: Invalid export interval, using default")
	return defaultMetricExportInterval
}
