package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	offline "github.com/sammcj/mcp-workspace/internal/cli"
	"github.com/sammcj/mcp-workspace/internal/config"
	"github.com/sammcj/mcp-workspace/internal/google/auth"
	"github.com/sammcj/mcp-workspace/internal/registry"
	"github.com/sammcj/mcp-workspace/internal/telemetry"
	"github.com/sammcj/mcp-workspace/internal/tools"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Global resources that need cleanup
var (
	debugLogFile atomic.Pointer[os.File]
	errorLogger  atomic.Pointer[tools.ToolErrorLogger]
	isStdioMode  atomic.Bool
)

const (
	// DefaultMemoryLimit is the default soft memory limit (1GB)
	DefaultMemoryLimit = 1024 * 1024 * 1024
)

// parseLogLevel parses LOG_LEVEL, defaulting to warn.
func parseLogLevel() logrus.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}

// setMemoryLimit configures the Go runtime soft memory limit
func setMemoryLimit() {
	var memLimit int64 = DefaultMemoryLimit
	if raw := os.Getenv("MCP_WORKSPACE_MEMORY_LIMIT"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			memLimit = parsed
		}
	}
	debug.SetMemoryLimit(memLimit)
}

// configureLogging sends logs to ~/.mcp-workspace/logs/mcp-workspace.log.
// If the file cannot be opened, stdio mode discards logs so the protocol
// stream stays clean and other modes fall back to stderr.
func configureLogging(logger *logrus.Logger, stdio bool) {
	level := parseLogLevel()
	logger.SetLevel(level)
	logrus.SetLevel(level)

	logDir := filepath.Join(config.Dir(), "logs")
	if err := os.MkdirAll(logDir, 0700); err == nil {
		logFile := filepath.Join(logDir, "mcp-workspace.log")
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			if old := debugLogFile.Swap(file); old != nil {
				_ = old.Close()
			}
			logger.SetOutput(file)
			logrus.SetOutput(file)
			logger.WithField("level", level.String()).Debug("Logging configured")
			return
		}
	}

	var fallback io.Writer = os.Stderr
	if stdio {
		fallback = io.Discard
	}
	logger.SetOutput(fallback)
	logrus.SetOutput(fallback)
}

// initToolErrorLogger enables the JSON-lines error log when LOG_TOOL_ERRORS is true.
func initToolErrorLogger(logger *logrus.Logger) {
	enabled := strings.EqualFold(os.Getenv("LOG_TOOL_ERRORS"), "true")
	l, err := tools.NewToolErrorLogger(filepath.Join(config.Dir(), "logs"), enabled, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialise tool error logger")
		return
	}
	errorLogger.Store(l)
}

// initTelemetry starts tracing and metrics. Failures are logged and the
// server continues without them.
func initTelemetry(logger *logrus.Logger) func() {
	shutdownTracer, err := telemetry.InitTracer(logger)
	if err != nil {
		logger.WithError(err).Warn("OTEL: Tracing disabled")
	}
	shutdownMetrics, err := telemetry.InitMetrics(logger)
	if err != nil {
		logger.WithError(err).Warn("OTEL: Metrics disabled")
	}
	return func() {
		if err := shutdownMetrics(); err != nil {
			logger.WithError(err).Debug("OTEL: Metrics shutdown failed")
		}
		if err := shutdownTracer(); err != nil {
			logger.WithError(err).Debug("OTEL: Tracer shutdown failed")
		}
	}
}

func main() {
	setMemoryLimit()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discard output until the transport mode is known
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	defer performCleanup(logger)

	outputFlag := &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Value:   "text",
		Usage:   "Output format (text or json)",
	}

	app := &cli.Command{
		Name:    "mcp-workspace",
		Usage:   "MCP server for editing Google Apps Script projects",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "transport",
				Aliases: []string{"t"},
				Value:   "stdio",
				Usage:   "Transport type (stdio, sse, or http)",
			},
			&cli.StringFlag{
				Name:  "port",
				Value: "18080",
				Usage: "Port to use for HTTP transports (SSE and Streamable HTTP)",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Value: "http://localhost",
				Usage: "Base URL for HTTP transports",
			},
			&cli.StringFlag{
				Name:    "auth-token",
				Usage:   "Bearer token required by the Streamable HTTP transport (optional)",
				Sources: cli.EnvVars("MCP_WORKSPACE_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "endpoint-path",
				Value: "/http",
				Usage: "Endpoint path for Streamable HTTP transport",
			},
			&cli.DurationFlag{
				Name:  "session-timeout",
				Value: 30 * time.Minute,
				Usage: "Idle session timeout for Streamable HTTP transport",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file (default: ~/.mcp-workspace/config.yaml)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("mcp-workspace version %s\n", Version)
					fmt.Printf("Commit: %s\n", Commit)
					fmt.Printf("Built: %s\n", BuildDate)
					return nil
				},
			},
			{
				Name:  "auth",
				Usage: "Manage Google credentials",
				Commands: []*cli.Command{
					{
						Name:  "login",
						Usage: "Authorise with a Google account in the browser and save a refreshable token",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "no-browser",
								Usage: "Print the consent URL without opening a browser",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							configureLogging(logger, false)
							provider, err := newAuthProvider(cmd, logger)
							if err != nil {
								return err
							}
							var browser auth.BrowserLauncher = auth.SystemBrowser{}
							if cmd.Bool("no-browser") {
								browser = nil
							}
							return provider.Login(ctx, browser, os.Stdout)
						},
					},
					{
						Name:  "status",
						Usage: "Show which credentials will be used",
						Flags: []cli.Flag{outputFlag},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							configureLogging(logger, false)
							provider, err := newAuthProvider(cmd, logger)
							if err != nil {
								return err
							}
							return printAuthStatus(provider.Status(), cmd.String("output"))
						},
					},
				},
			},
			{
				Name:      "anchors",
				Usage:     "Insert anchor markers into a local .gs, .js or .html file (preview by default)",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "write",
						Usage: "Write the anchored content back to the file",
					},
					outputFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					runner, err := newOfflineRunner(cmd, logger)
					if err != nil {
						return err
					}
					path, err := singleArg(cmd)
					if err != nil {
						return err
					}
					return runner.Anchors(path, cmd.Bool("write"))
				},
			},
			{
				Name:      "validate",
				Usage:     "Syntax-check a local file",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "against",
						Usage: "Previous version of the file, enables the size sanity check",
					},
					outputFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					runner, err := newOfflineRunner(cmd, logger)
					if err != nil {
						return err
					}
					path, err := singleArg(cmd)
					if err != nil {
						return err
					}
					return runner.Validate(path, cmd.String("against"))
				},
			},
			{
				Name:  "tools",
				Usage: "List, describe and call tools without an MCP client",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List enabled tools",
						Flags: []cli.Flag{outputFlag},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							runner, err := newToolRunner(cmd, logger)
							if err != nil {
								return err
							}
							return runner.ListTools()
						},
					},
					{
						Name:      "help",
						Usage:     "Show a tool's parameters",
						ArgsUsage: "<tool>",
						Flags:     []cli.Flag{outputFlag},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							runner, err := newToolRunner(cmd, logger)
							if err != nil {
								return err
							}
							name, err := singleArg(cmd)
							if err != nil {
								return err
							}
							return runner.HelpTool(name)
						},
					},
					{
						Name:            "call",
						Usage:           "Call a tool with --key=value flags or a JSON object",
						ArgsUsage:       "<tool> [--key=value ...] ['{\"key\": \"value\"}']",
						SkipFlagParsing: true,
						Action: func(ctx context.Context, cmd *cli.Command) error {
							runner, err := newToolRunner(cmd, logger)
							if err != nil {
								return err
							}
							args := cmd.Args().Slice()
							if len(args) == 0 {
								return fmt.Errorf("tool name is required")
							}
							return runner.RunTool(ctx, args[0], args[1:])
						},
					},
				},
			},
		},
		Action: func(cliCtx context.Context, cmd *cli.Command) error {
			transport := cmd.String("transport")
			isStdioMode.Store(transport == "stdio")
			configureLogging(logger, isStdioMode.Load())
			initToolErrorLogger(logger)

			shutdownTelemetry := initTelemetry(logger)
			defer shutdownTelemetry()

			if transport != "stdio" {
				logger.Infof("Starting mcp-workspace version %s (commit: %s, built: %s)", Version, Commit, BuildDate)
			}

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			if err := registerTools(cfg, logger); err != nil {
				return err
			}

			return serve(cliCtx, cmd, transport, logger)
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		// Nothing may be written to stdout or stderr in stdio mode
		if !isStdioMode.Load() {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		logger.WithError(err).Error("Exiting")
		performCleanup(logger)
		os.Exit(1)
	}
}

func newAuthProvider(cmd *cli.Command, logger *logrus.Logger) (*auth.Provider, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	return newAuth(cfg, logger), nil
}

func printAuthStatus(st auth.Status, output string) error {
	if output == string(offline.OutputJSON) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Printf("Method: %s\n", st.Method)
	switch st.Method {
	case "service_account":
		fmt.Printf("Service account: %s\n", st.ServiceAccount)
	case "oauth":
		fmt.Printf("Token file: %s\n", st.TokenFile)
		fmt.Printf("Refresh token: %t\n", st.HasRefreshToken)
		if !st.Expiry.IsZero() {
			fmt.Printf("Access token expiry: %s\n", st.Expiry.Format(time.RFC3339))
		}
	default:
		fmt.Printf("Not authenticated. Place an OAuth client secret at %s and run `mcp-workspace auth login`.\n", st.ClientSecret)
	}
	fmt.Printf("Scopes: %s\n", strings.Join(st.Scopes, ", "))
	return nil
}

func newOfflineRunner(cmd *cli.Command, logger *logrus.Logger) (*offline.Runner, error) {
	configureLogging(logger, false)
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	return offline.NewRunner(logger, nil, offline.OutputFormat(cmd.String("output")), validate.New(cfg.ValidatorOptions())), nil
}

func newToolRunner(cmd *cli.Command, logger *logrus.Logger) (*offline.Runner, error) {
	configureLogging(logger, false)
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := registerTools(cfg, logger); err != nil {
		return nil, err
	}
	return offline.NewRunner(logger, registry.GetCache(), offline.OutputFormat(cmd.String("output")), validate.New(cfg.ValidatorOptions())), nil
}

func singleArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one argument: %s", cmd.ArgsUsage)
	}
	return cmd.Args().First(), nil
}

// performCleanup closes log files. It is safe to call more than once.
func performCleanup(logger *logrus.Logger) {
	if l := errorLogger.Swap(nil); l != nil {
		if err := l.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close tool error logger")
		}
	}
	if file := debugLogFile.Swap(nil); file != nil {
		_ = file.Close()
	}
}
