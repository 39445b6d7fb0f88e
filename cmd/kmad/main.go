// kmad: claim-arbitrated task scheduler
//
// Every change to the schedule is proposed as a claim by the department
// that owns it, checked by independent validators, and committed only on
// the arbiter's approval.
//
// Usage:
//
//	kmad serve              # Start MCP server (stdio transport)
//	kmad http               # Serve the HTTP API
//	kmad repl               # Interactive prompt
//	kmad run <command...>   # Run one command and exit
//	kmad init               # Write the default governance rules file
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/kmad/internal/app"
	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/config"
	"github.com/HendryAvila/kmad/internal/httpapi"
	"github.com/HendryAvila/kmad/internal/pipeline"
	kmadserver "github.com/HendryAvila/kmad/internal/server"
	"github.com/HendryAvila/kmad/internal/telemetry"
	"github.com/HendryAvila/kmad/internal/tui"
)

// Exit codes for `kmad run`.
const (
	exitOK       = 0
	exitFatal    = 1
	exitRejected = 2
)

const replLogFile = "kmad.log"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitFatal)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = withRuntime(serveMCP)
	case "http":
		err = withRuntime(serveHTTP)
	case "repl":
		err = withRuntime(repl)
	case "run":
		os.Exit(runOnce(os.Args[2:]))
	case "init":
		err = initRules()
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitOK)
	case "--version", "-v", "version":
		fmt.Printf("kmad v%s\n", kmadserver.Version)
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitFatal)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}
}

// runtimeFunc is a long-running subcommand.
type runtimeFunc func(ctx context.Context, cfg config.Config, logger *slog.Logger) error

// withRuntime loads configuration, sets up logging and tracing, and runs fn
// until it returns or the process is interrupted.
func withRuntime(fn runtimeFunc) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, telemetry.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	shutdownMetrics, err := telemetry.SetupMetrics(ctx, telemetry.ServiceName, cfg.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("setting up metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	return fn(ctx, cfg, logger)
}

// setup loads configuration and builds the stderr logger. Stdout is
// reserved for the MCP stdio transport and command output.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withApp builds the scheduler, runs fn and closes the store.
func withApp(cfg config.Config, logger *slog.Logger, fn func(*app.App) error) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()
	return fn(a)
}

func serveMCP(_ context.Context, cfg config.Config, logger *slog.Logger) error {
	s, cleanup, err := kmadserver.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// stdio server manages its own lifecycle
	return server.ServeStdio(s)
}

func serveHTTP(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	return withApp(cfg, logger, func(a *app.App) error {
		err := httpapi.Serve(ctx, cfg.HTTPAddr, httpapi.NewRouter(a, logger), logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
}

// repl runs the interactive prompt. Logs go to a file in the data
// directory so they do not draw over the terminal UI.
func repl(_ context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.DataDir, replLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	level, _ := cfg.SlogLevel()
	fileLogger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	logger.Debug("repl logging to file", "path", f.Name())
	return withApp(cfg, fileLogger, func(a *app.App) error { return tui.Run(a) })
}

// runOnce executes a single command and returns the process exit code.
func runOnce(args []string) int {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: kmad run <command...>\n\nCommands:\n%s\n", command.Help())
		return exitFatal
	}

	code := exitOK
	err := withRuntime(func(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
		return withApp(cfg, logger, func(a *app.App) error {
			res, err := a.Execute(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if res.Kind == pipeline.ResultError {
				fmt.Fprintln(os.Stderr, res.Message)
				code = exitRejected
				return nil
			}
			fmt.Println(res.Message)
			return nil
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	return code
}

func initRules() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	path := cfg.RulesFile()
	if err := config.WriteDefaultRules(path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote governance rules to %s\n", path)
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `kmad v%s - claim-arbitrated task scheduler

Usage:
  kmad serve              Start the MCP server (stdio transport)
  kmad http               Serve the HTTP API on KMAD_HTTP_ADDR
  kmad repl               Open the interactive prompt
  kmad run <command...>   Run one command and exit (2 if rejected)
  kmad init               Write the default governance rules file
  kmad version            Print the version

Commands:
%s

Environment:
  KMAD_DATA_DIR       data directory (default ~/.kmad)
  KMAD_STORE          sqlite | memory (default sqlite)
  KMAD_RULES          governance rules file
  KMAD_MAX_RETRIES    override pipeline.max_retries
  KMAD_HTTP_ADDR      HTTP listen address (default 127.0.0.1:8088)
  KMAD_LOG_LEVEL      debug | info | warn | error (default info)
  KMAD_OTEL_ENDPOINT  OTLP/HTTP traces endpoint (tracing off when empty)
  KMAD_OTEL_METRICS_ENDPOINT
                      OTLP/gRPC metrics endpoint (metrics off when empty)

MCP configuration:

  {
    "mcpServers": {
      "kmad": {
        "command": "kmad",
        "args": ["serve"]
      }
    }
  }
`, kmadserver.Version, command.Help())
}
