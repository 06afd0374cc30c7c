package telemetry

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "mcp-workspace"

type contextKey string

const (
	sessionIDKey contextKey = "mcp.session.id"

	defaultMaxAttributeSize = 4096
	minAttributeSize        = 1024
	maxAttributeSize        = 65536
)

var (
	globalMutex          sync.RWMutex
	globalTracer         trace.Tracer
	globalTracerProvider *sdktrace.TracerProvider
	disabledTools        map[string]bool
	tracingEnabled       bool

	// Session span for stdio; tool spans are parented to it
	globalSessionSpanContext trace.SpanContext
	globalSessionID          string
)

// otelErrorHandler routes SDK errors to logrus. The SDK otherwise writes to
// stderr, which corrupts the stdio transport.
type otelErrorHandler struct {
	logger *logrus.Logger
}

func (h *otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	h.logger.WithError(err).Debug("OTEL: SDK error occurred")
}

// InitTracer configures tracing from the standard OTEL_* environment variables.
// Without OTEL_EXPORTER_OTLP_ENDPOINT a noop tracer is installed. The returned
// function flushes and shuts the provider down.
func InitTracer(logger *logrus.Logger) (func() error, error) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	globalSessionSpanContext = trace.SpanContext{}
	globalSessionID = ""
	disabledTools = parseList(os.Getenv("MCP_TRACING_DISABLED_TOOLS"))

	noopShutdown := func() error { return nil }
	useNoop := func() {
		globalTracer = noop.NewTracerProvider().Tracer(instrumentationName)
		tracingEnabled = false
	}

	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		logger.Debug("OTEL: Explicitly disabled via OTEL_SDK_DISABLED")
		useNoop()
		return noopShutdown, nil
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Debug("OTEL: OTEL_EXPORTER_OTLP_ENDPOINT not set, using noop tracer")
		useNoop()
		return noopShutdown, nil
	}

	otel.SetErrorHandler(&otelErrorHandler{logger: logger})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		exporter *otlptrace.Exporter
		err      error
	)
	switch protocol := getOTLPProtocol(); protocol {
	case "grpc":
		exporter, err = otlptracegrpc.New(ctx)
	case "http/protobuf", "http":
		exporter, err = otlptracehttp.New(ctx)
	default:
		logger.WithField("protocol", protocol).Warn("OTEL: Unknown protocol, defaulting to http")
		exporter, err = otlptracehttp.New(ctx)
	}
	if err != nil {
		useNoop()
		return noopShutdown, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(ctx, logger)),
		sdktrace.WithSampler(createSampler(logger)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	globalTracer = tp.Tracer(instrumentationName)
	globalTracerProvider = tp
	tracingEnabled = true
	logger.WithField("endpoint", endpoint).Info("OTEL: Tracer initialised")

	return func() error {
		globalMutex.Lock()
		defer globalMutex.Unlock()
		if globalTracerProvider == nil {
			return nil
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := globalTracerProvider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}

func newResource(ctx context.Context, logger *logrus.Logger) *resource.Resource {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(getServiceName()),
			semconv.ServiceVersionKey.String(getServiceVersion()),
			attribute.String("deployment.environment", getDeploymentEnvironment()),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		logger.WithError(err).Warn("OTEL: Failed to create resource, using default")
		return resource.Default()
	}
	return res
}

// GetTracer returns the global tracer, or a noop tracer before InitTracer.
func GetTracer() trace.Tracer {
	globalMutex.RLock()
	defer globalMutex.RUnlock()
	if globalTracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return globalTracer
}

// IsEnabled reports whether spans are exported.
func IsEnabled() bool {
	globalMutex.RLock()
	defer globalMutex.RUnlock()
	return tracingEnabled
}

// IsToolTracingDisabled reports whether MCP_TRACING_DISABLED_TOOLS names the tool.
func IsToolTracingDisabled(toolName string) bool {
	globalMutex.RLock()
	defer globalMutex.RUnlock()
	return disabledTools[toolName]
}

// GenerateSessionID returns a new random session ID.
func GenerateSessionID() string {
	return uuid.New().String()
}

// ContextWithSessionID returns ctx carrying the MCP session ID of the
// current request.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session ID stored by ContextWithSessionID,
// or "" when there is none.
func SessionIDFromContext(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// StartSessionSpan records a session span and remembers its context so tool
// spans can be parented to it. The span is ended and flushed straight away
// so the backend sees the parent before any child.
func StartSessionSpan(ctx context.Context, sessionID, transport string) (context.Context, trace.Span) {
	if !IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := GetTracer().Start(ctx, SpanNameSession,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrMCPSessionID, sessionID),
			attribute.String(AttrMCPTransport, transport),
		),
	)
	spanContext := span.SpanContext()
	span.End()

	globalMutex.Lock()
	tp := globalTracerProvider
	globalSessionSpanContext = spanContext
	globalSessionID = sessionID
	globalMutex.Unlock()

	if tp != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tp.ForceFlush(flushCtx)
	}

	return ctx, trace.SpanFromContext(ctx)
}

// EndSessionSpan forgets the session recorded by StartSessionSpan.
func EndSessionSpan() {
	globalMutex.Lock()
	globalSessionSpanContext = trace.SpanContext{}
	globalSessionID = ""
	globalMutex.Unlock()
}

// StartToolSpan opens a span for one tool call. The caller must finish it with EndToolSpan.
func StartToolSpan(ctx context.Context, toolName string, args map[string]any) (context.Context, trace.Span) {
	if !IsEnabled() || IsToolTracingDisabled(toolName) {
		return ctx, trace.SpanFromContext(ctx)
	}

	globalMutex.RLock()
	sessionSpanCtx := globalSessionSpanContext
	sessionID := globalSessionID
	globalMutex.RUnlock()
	if id := SessionIDFromContext(ctx); id != "" {
		sessionID = id
	}

	if sessionSpanCtx.IsValid() {
		carrier := propagation.MapCarrier{}
		prop := otel.GetTextMapPropagator()
		prop.Inject(trace.ContextWithSpanContext(context.Background(), sessionSpanCtx), carrier)
		ctx = prop.Extract(ctx, carrier)
	}

	ctx, span := GetTracer().Start(ctx, SpanNameToolExecute, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String(AttrMCPToolName, toolName))
	if sessionID != "" {
		span.SetAttributes(attribute.String(AttrMCPSessionID, sessionID))
	}
	if projectID, ok := args["project_id"].(string); ok && projectID != "" {
		span.SetAttributes(attribute.String(AttrScriptProjectID, projectID))
	}

	sanitised := SanitiseArguments(args)
	if limit := getMaxAttributeSize(); len(sanitised) > limit {
		span.SetAttributes(
			attribute.String("mcp.tool.arguments", TruncateString(sanitised, limit)),
			attribute.Bool("mcp.tool.arguments.truncated", true),
		)
	} else {
		span.SetAttributes(attribute.String("mcp.tool.arguments", sanitised))
	}

	return ctx, span
}

// PatchAttributes describes a finished patch or anchor run for span annotation.
type PatchAttributes struct {
	FileName   string
	Method     string
	Success    bool
	SyntaxOK   bool
	Accuracy   float64
	ByteDelta  int
	DryRun     bool
	Committed  bool
	SnapshotID string
}

// AnnotatePatch adds the patch outcome to the span active in ctx.
func AnnotatePatch(ctx context.Context, p PatchAttributes) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String(AttrPatchFileName, p.FileName),
		attribute.String(AttrPatchMethod, p.Method),
		attribute.Bool(AttrPatchSuccess, p.Success),
		attribute.Bool(AttrPatchSyntaxOK, p.SyntaxOK),
		attribute.Float64(AttrPatchAccuracy, p.Accuracy),
		attribute.Int(AttrPatchByteDelta, p.ByteDelta),
		attribute.Bool(AttrPatchDryRun, p.DryRun),
		attribute.Bool(AttrPatchCommitted, p.Committed),
	)
	if p.SnapshotID != "" {
		span.SetAttributes(attribute.String(AttrSnapshotID, p.SnapshotID))
	}
}

// EndToolSpan sets the span status from err and ends it.
func EndToolSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.Bool(AttrMCPToolSuccess, false),
			attribute.String(AttrMCPToolError, err.Error()),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Bool(AttrMCPToolSuccess, true))
	}
	span.End()
}

func parseList(raw string) map[string]bool {
	out := make(map[string]bool)
	for item := range strings.SplitSeq(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out[item] = true
		}
	}
	return out
}

func getOTLPProtocol() string {
	if protocol := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"); protocol != "" {
		return protocol
	}
	if strings.Contains(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), ":4317") {
		return "grpc"
	}
	return "http/protobuf"
}

func getServiceName() string {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return instrumentationName
}

func getServiceVersion() string {
	if version := os.Getenv("MCP_VERSION"); version != "" {
		return version
	}
	return "dev"
}

func getDeploymentEnvironment() string {
	for _, envVar := range []string{"ENVIRONMENT", "ENV", "DEPLOYMENT_ENV"} {
		if env := os.Getenv(envVar); env != "" {
			return env
		}
	}
	for pair := range strings.SplitSeq(os.Getenv("OTEL_RESOURCE_ATTRIBUTES"), ",") {
		if k, v, ok := strings.Cut(pair, "="); ok && k == "deployment.environment" {
			return v
		}
	}
	return "development"
}

func createSampler(logger *logrus.Logger) sdktrace.Sampler {
	arg := os.Getenv("OTEL_TRACES_SAMPLER_ARG")
	switch sampler := os.Getenv("OTEL_TRACES_SAMPLER"); sampler {
	case "", "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(parseRatio(arg, 1.0))
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(parseRatio(arg, 1.0)))
	default:
		logger.WithField("sampler", sampler).Warn("OTEL: Unknown sampler type, using always_on")
		return sdktrace.AlwaysSample()
	}
}

// parseRatio parses a sampling ratio clamped to [0, 1].
func parseRatio(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return min(max(f, 0), 1)
}

func getMaxAttributeSize() int {
	size, err := strconv.Atoi(os.Getenv("MCP_TRACING_MAX_ATTRIBUTE_SIZE"))
	if err != nil {
		return defaultMaxAttributeSize
	}
	return min(max(size, minAttributeSize), maxAttributeSize)
}
