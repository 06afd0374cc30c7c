package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sammcj/mcp-workspace/internal/cache"
	"github.com/sammcj/mcp-workspace/internal/config"
	"github.com/sammcj/mcp-workspace/internal/google"
	"github.com/sammcj/mcp-workspace/internal/google/auth"
	"github.com/sammcj/mcp-workspace/internal/google/drive"
	"github.com/sammcj/mcp-workspace/internal/google/scriptstore"
	gsheets "github.com/sammcj/mcp-workspace/internal/google/sheets"
	"github.com/sammcj/mcp-workspace/internal/patch"
	"github.com/sammcj/mcp-workspace/internal/registry"
	"github.com/sammcj/mcp-workspace/internal/scriptedit"
	"github.com/sammcj/mcp-workspace/internal/snapshot"
	"github.com/sammcj/mcp-workspace/internal/telemetry"
	"github.com/sammcj/mcp-workspace/internal/tools/appscript"
	"github.com/sammcj/mcp-workspace/internal/tools/sheets"
	"github.com/sammcj/mcp-workspace/internal/tools/utilities/toolhelp"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

func newAuth(cfg *config.Config, logger *logrus.Logger) *auth.Provider {
	return auth.NewProvider(auth.Options{
		ClientSecretFile:   cfg.Google.ClientSecretFile,
		TokenFile:          cfg.Google.TokenFile,
		ServiceAccountFile: cfg.Google.ServiceAccountFile,
		Scopes:             cfg.Google.Scopes,
		Timeout:            cfg.Google.Timeout,
		RateLimit:          cfg.Google.RateLimit,
	}, logger)
}

// registerTools builds the services and registers every tool. Google
// credentials are not read until the first call that needs them.
func registerTools(cfg *config.Config, logger *logrus.Logger) error {
	factory := google.NewFactory(newAuth(cfg, logger))
	validator := validate.New(cfg.ValidatorOptions())
	orchestrator := patch.NewOrchestrator(patch.NewFuzzyMatcher(cfg.FuzzyOptions()), validator, cfg.Patch.MinAccuracy, logger)

	var snapshots scriptedit.Snapshots
	if cfg.Snapshots.Disabled {
		logger.Warn("Snapshots disabled, patches cannot be restored")
	} else {
		store, err := snapshot.NewStore(cfg.Snapshots.Dir, cfg.Snapshots.MaxPerFile, logger)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		snapshots = store
	}

	editor := scriptedit.New(scriptstore.New(factory.Script, logger), snapshots, orchestrator, validator, logger)
	projects := drive.NewProjects(factory.Drive, cache.NewCache[[]drive.Project](drive.DefaultCacheTTL), logger)

	registry.Init(logger)
	registry.Register(appscript.NewPatchTool(editor))
	registry.Register(appscript.NewAnchorsTool(editor))
	registry.Register(appscript.NewFilesTool(editor, projects))
	registry.Register(sheets.NewSheetsTool(gsheets.New(factory.Sheets, logger)))
	// Registered last so it can describe every other tool
	registry.Register(toolhelp.New(registry.View{}))

	logger.WithField("tools", registry.GetEnabledToolNames()).Debug("Tools registered")
	return nil
}

func serve(ctx context.Context, cmd *cli.Command, transport string, logger *logrus.Logger) error {
	sessions := newSessionTracker(transport, logger)
	mcpSrv := mcpserver.NewMCPServer("mcp-workspace", Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(sessions.hooks()),
	)

	for name, tool := range registry.GetEnabledTools() {
		if transport != "stdio" {
			logger.Infof("Registering tool: %s", name)
		}
		mcpSrv.AddTool(tool.Definition(), toolHandler(name, transport, logger, sessions))
	}

	port := cmd.String("port")
	baseURL := cmd.String("base-url")

	logger.WithField("transport", transport).Debug("Starting server")
	switch transport {
	case "stdio":
		return mcpserver.ServeStdio(mcpSrv)
	case "sse":
		sseServer := mcpserver.NewSSEServer(mcpSrv, mcpserver.WithBaseURL(fmt.Sprintf("%s:%s", baseURL, port)))
		return listenAndServe(ctx, ":"+port, otelhttp.NewHandler(sseServer, "mcp.sse"), logger)
	case "http":
		return startStreamableHTTPServer(ctx, cmd, mcpSrv, logger)
	default:
		return fmt.Errorf("unsupported transport: %s", transport)
	}
}

// toolHandler runs one registered tool with tracing, metrics and error
// logging around it.
func toolHandler(name, transport string, logger *logrus.Logger, sessions *sessionTracker) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tool, ok := registry.GetTool(name)
		if !ok {
			return nil, fmt.Errorf("tool not found: %s", name)
		}

		args := map[string]any{}
		if request.Params.Arguments != nil {
			args, ok = request.Params.Arguments.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid arguments type: expected map[string]any, got %T", request.Params.Arguments)
			}
		}

		ctx = sessions.toolCalled(ctx)
		ctx, span := telemetry.StartToolSpan(ctx, name, args)
		start := time.Now()

		result, err := tool.Execute(ctx, registry.GetLogger(), registry.GetCache(), args)

		telemetry.RecordToolCall(ctx, name, transport, err == nil, float64(time.Since(start).Milliseconds()))
		telemetry.EndToolSpan(span, err)
		if err != nil {
			telemetry.RecordToolError(ctx, name, telemetry.CategoriseToolError(err))
			if transport != "stdio" {
				logger.WithError(err).Errorf("Tool execution failed: %s", name)
			}
			errorLogger.Load().LogToolError(name, args, err, transport)
			return nil, fmt.Errorf("tool execution failed: %w", err)
		}
		return result, nil
	}
}

// startStreamableHTTPServer serves the Streamable HTTP transport behind
// optional bearer token authentication.
func startStreamableHTTPServer(ctx context.Context, cmd *cli.Command, mcpServer *mcpserver.MCPServer, logger *logrus.Logger) error {
	port := cmd.String("port")
	endpointPath := cmd.String("endpoint-path")
	sessionTimeout := cmd.Duration("session-timeout")

	logger.Infof("Starting Streamable HTTP server on port %s with endpoint %s", port, endpointPath)

	opts := []mcpserver.StreamableHTTPOption{
		mcpserver.WithEndpointPath(endpointPath),
		mcpserver.WithLogger(&logrusAdapter{logger: logger}),
	}

	heartbeatInterval := 30 * time.Second
	if sessionTimeout > 0 {
		opts = append(opts, mcpserver.WithSessionIdManager(newTimeoutSessionManager(sessionTimeout, logger)))
		heartbeatInterval = sessionTimeout / 4
	}
	opts = append(opts, mcpserver.WithHeartbeatInterval(heartbeatInterval))

	mux := http.NewServeMux()
	mux.Handle(endpointPath, mcpserver.NewStreamableHTTPServer(mcpServer, opts...))

	handler := withRequestChecks(mux, cmd.String("auth-token"), cmd.String("base-url"), logger)
	if cmd.String("auth-token") != "" {
		logger.Info("Bearer token authentication enabled")
	}
	return listenAndServe(ctx, ":"+port, otelhttp.NewHandler(handler, "mcp.http"), logger)
}

// listenAndServe runs an HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func listenAndServe(ctx context.Context, addr string, handler http.Handler, logger *logrus.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
		return err
	}
	logger.Info("HTTP server stopped gracefully")
	return nil
}

// withRequestChecks rejects cross-origin requests from origins other than
// localhost and baseURL, and requests without the bearer token when one is
// configured.
func withRequestChecks(next http.Handler, expectedToken, baseURL string, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if version := req.Header.Get("MCP-Protocol-Version"); version != "" && !isValidProtocolVersion(version) {
			logger.Warnf("Unsupported MCP Protocol Version: %s", version)
		}

		if origin := req.Header.Get("Origin"); origin != "" && !isValidOrigin(origin, baseURL) {
			logger.Warnf("Rejected request from origin %s", origin)
			http.Error(w, "forbidden origin", http.StatusForbidden)
			return
		}

		if expectedToken != "" {
			token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.Warn("Rejected request with missing or invalid bearer token")
				w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-workspace"`)
				http.Error(w, "unauthorised", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, req)
	})
}

func isValidProtocolVersion(version string) bool {
	return slices.Contains([]string{"2025-06-18", "2025-03-26", "2024-11-05"}, version)
}

// isValidOrigin allows localhost origins and the configured base URL,
// guarding against DNS rebinding.
func isValidOrigin(origin, baseURL string) bool {
	allowed := []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	}
	if baseURL != "" {
		allowed = append(allowed, strings.TrimSuffix(baseURL, "/"))
	}
	for _, a := range allowed {
		if origin == a || strings.HasPrefix(origin, a+":") {
			return true
		}
	}
	return false
}

// timeoutSessionManager issues random session IDs and expires sessions idle
// for longer than timeout.
type timeoutSessionManager struct {
	timeout time.Duration
	logger  *logrus.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

func newTimeoutSessionManager(timeout time.Duration, logger *logrus.Logger) *timeoutSessionManager {
	return &timeoutSessionManager{timeout: timeout, logger: logger, lastSeen: map[string]time.Time{}, now: time.Now}
}

func (m *timeoutSessionManager) Generate() string {
	id := uuid.NewString()
	m.mu.Lock()
	m.lastSeen[id] = m.now()
	m.mu.Unlock()
	return id
}

// Validate reports expired sessions as terminated and unknown IDs as errors.
func (m *timeoutSessionManager) Validate(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("empty session ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen, ok := m.lastSeen[sessionID]
	if !ok {
		return false, fmt.Errorf("unknown session ID")
	}
	now := m.now()
	if now.Sub(seen) > m.timeout {
		delete(m.lastSeen, sessionID)
		m.logger.WithField("session_id", sessionID).Debug("Session expired")
		return true, nil
	}
	m.lastSeen[sessionID] = now
	return false, nil
}

func (m *timeoutSessionManager) Terminate(sessionID string) (bool, error) {
	m.mu.Lock()
	delete(m.lastSeen, sessionID)
	m.mu.Unlock()
	m.logger.WithField("session_id", sessionID).Debug("Session terminated")
	return false, nil
}

// sessionTracker feeds session metrics from server hooks. In stdio mode
// there is a single session, which also gets a trace span that tool spans
// hang off.
type sessionTracker struct {
	transport string
	logger    *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*sessionStats
}

type sessionStats struct {
	started time.Time
	tools   int64
}

func newSessionTracker(transport string, logger *logrus.Logger) *sessionTracker {
	return &sessionTracker{transport: transport, logger: logger, sessions: map[string]*sessionStats{}}
}

func (s *sessionTracker) hooks() *mcpserver.Hooks {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		s.start(ctx, session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		s.end(ctx, session.SessionID())
	})
	return hooks
}

func (s *sessionTracker) start(ctx context.Context, id string) {
	s.mu.Lock()
	s.sessions[id] = &sessionStats{started: time.Now()}
	s.mu.Unlock()

	if s.transport == "stdio" {
		telemetry.StartSessionSpan(ctx, telemetry.GenerateSessionID(), s.transport)
	}
	telemetry.RecordSessionStart(ctx, s.transport)
	s.logger.WithField("session_id", id).Debug("Session started")
}

func (s *sessionTracker) end(ctx context.Context, id string) {
	s.mu.Lock()
	stats, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	telemetry.RecordSessionEnd(ctx, s.transport, time.Since(stats.started).Seconds(), stats.tools)
	if s.transport == "stdio" {
		telemetry.EndSessionSpan()
	}
	s.logger.WithFields(logrus.Fields{"session_id": id, "tool_calls": stats.tools}).Debug("Session ended")
}

// toolCalled counts a call against the calling session and returns ctx
// carrying that session's ID for tool spans.
func (s *sessionTracker) toolCalled(ctx context.Context) context.Context {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return ctx
	}
	return s.tagCall(ctx, session.SessionID())
}

func (s *sessionTracker) tagCall(ctx context.Context, id string) context.Context {
	s.mu.Lock()
	if stats, ok := s.sessions[id]; ok {
		stats.tools++
	}
	s.mu.Unlock()
	return telemetry.ContextWithSessionID(ctx, id)
}

// logrusAdapter adapts logrus.Logger to the mcp-go util.Logger interface
type logrusAdapter struct {
	logger *logrus.Logger
}

func (l *logrusAdapter) Infof(format string, args ...any) {
	l.logger.Infof(format, args...)
}

func (l *logrusAdapter) Errorf(format string, args ...any) {
	l.logger.Errorf(format, args...)
}
