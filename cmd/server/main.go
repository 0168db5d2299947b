package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartanswer/internal/browser"
	"smartanswer/internal/config"
	"smartanswer/internal/engine"
	"smartanswer/internal/mangle"
	mcpserver "smartanswer/internal/mcp"
	"smartanswer/internal/recorder"
	"smartanswer/internal/solver"

	"github.com/google/uuid"
)

// overrides are the CLI flags layered over the loaded config.
type overrides struct {
	mode     string
	startURL string
	solver   string
	headless string
	mcp      bool
	ssePort  int
}

func main() {
	configPath := flag.String("config", "", "Path to a config file layered over the workspace config")
	workspace := flag.String("workspace", "", "Workspace root containing .smartanswer/ (default: discovered from cwd)")
	noWorkspace := flag.Bool("no-workspace", false, "Ignore any .smartanswer/ workspace")
	initWS := flag.Bool("init", false, "Create .smartanswer/ in the current directory and exit")

	var ov overrides
	flag.StringVar(&ov.mode, "mode", "", "Engine mode override: interactive or autonomous")
	flag.StringVar(&ov.startURL, "start-url", "", "Page to open once the browser is up")
	flag.StringVar(&ov.solver, "solver", "", "Solve endpoint override")
	flag.StringVar(&ov.headless, "headless", "", "Headless override: true or false")
	flag.BoolVar(&ov.mcp, "mcp", false, "Expose engine tools over MCP")
	flag.IntVar(&ov.ssePort, "sse-port", 0, "Serve MCP over SSE on this port instead of stdio")
	flag.Parse()

	if *initWS {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("getting working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("init workspace: %v", err)
		}
		fmt.Printf("created %s/%s\n", config.WorkspaceDirName, config.WorkspaceConfigFile)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspace,
	})
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err = applyOverrides(cfg, ov)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)
	if wsDir != "" {
		logger.Info("using workspace", "dir", wsDir)
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", "error", err)
		os.Exit(1)
	}
}

// applyOverrides layers CLI flags over cfg and re-validates.
func applyOverrides(cfg config.Config, ov overrides) (config.Config, error) {
	if ov.mode != "" {
		cfg.Engine.Mode = ov.mode
	}
	if ov.startURL != "" {
		cfg.Browser.StartURL = ov.startURL
	}
	if ov.solver != "" {
		cfg.Solver.Endpoint = ov.solver
	}
	switch ov.headless {
	case "":
	case "true", "false":
		v := ov.headless == "true"
		cfg.Browser.Headless = &v
	default:
		return cfg, fmt.Errorf("-headless must be true or false, got %q", ov.headless)
	}
	if ov.mcp {
		cfg.MCP.Enable = true
	}
	if ov.ssePort != 0 {
		cfg.MCP.Enable = true
		cfg.MCP.SSEPort = ov.ssePort
	}
	return cfg, cfg.Validate()
}

// newLogger writes to stderr, except in stdio MCP mode where stderr would
// interfere with the protocol and logs go to server.log_file (or nowhere).
func newLogger(cfg config.Config) (*slog.Logger, func()) {
	var out io.Writer = os.Stderr
	closer := func() {}
	if cfg.MCP.Enable && cfg.MCP.SSEPort == 0 {
		out = io.Discard
		if cfg.Server.LogFile != "" {
			f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				out = f
				closer = func() { _ = f.Close() }
			}
		}
	}
	return slog.New(slog.NewTextHandler(out, nil)), closer
}

// engineOptions wires the fact store and, when a trace dir is configured, a
// flight recorder started for this run.
func engineOptions(cfg config.Config, logger *slog.Logger, facts *mangle.Engine) ([]engine.Option, func(), error) {
	opts := []engine.Option{engine.WithLogger(logger), engine.WithFacts(facts)}
	if cfg.Server.TraceDir == "" {
		return opts, func() {}, nil
	}
	rec, err := recorder.NewRecorder(cfg.Server.TraceDir)
	if err != nil {
		return nil, nil, err
	}
	if err := rec.Start(uuid.NewString()); err != nil {
		return nil, nil, err
	}
	logger.Info("recording trace", "path", rec.Path())
	return append(opts, engine.WithTracer(rec)), func() { _ = rec.Close() }, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	facts, err := mangle.NewEngine(cfg.Mangle, logger)
	if err != nil {
		return fmt.Errorf("initialize mangle engine: %w", err)
	}

	opts, closeTrace, err := engineOptions(cfg, logger, facts)
	if err != nil {
		return fmt.Errorf("initialize recorder: %w", err)
	}
	defer closeTrace()

	sessions := browser.NewSessionManager(cfg.Browser, logger)
	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := sessions.Shutdown(context.Background()); err != nil {
			logger.Warn("browser shutdown", "error", err)
		}
	}()

	sess, doc, err := sessions.OpenPage(ctx, cfg.Browser.StartURL)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	logger.Info("watching page", "session", sess.ID, "url", sess.URL)

	client := solver.NewClient(cfg.Solver.Endpoint, cfg.Solver.RequestTimeout())
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Health(healthCtx); err != nil {
		logger.Warn("solver not reachable; answers will fail until it is", "endpoint", client.Endpoint(), "error", err)
	}
	cancel()

	eng, err := engine.New(cfg.Engine, doc, client, opts...)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	if cfg.MCP.Enable {
		server, err := mcpserver.NewServer(cfg, eng, facts, sessions, logger)
		if err != nil {
			return fmt.Errorf("initialize MCP server: %w", err)
		}
		go func() {
			var startErr error
			if cfg.MCP.SSEPort > 0 {
				logger.Info("starting MCP SSE server", "port", cfg.MCP.SSEPort)
				startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
			} else {
				logger.Info("starting MCP stdio server")
				startErr = server.Start(ctx)
			}
			if startErr != nil && !errors.Is(startErr, context.Canceled) {
				logger.Error("MCP server exited", "error", startErr)
			}
		}()
	}

	logger.Info("engine running", "mode", eng.Mode())
	err = eng.Run(ctx)
	eng.Wait()
	status := eng.Status()
	logger.Info("engine stopped", "claimed", status.Claimed, "by_result", status.ByResult)
	return err
}
