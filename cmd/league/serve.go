package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	league "github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/config"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/llm"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/mcp"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/server"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/usecase"
)

// ServeCmd starts the HTTP API and the tool-server supervisor.
type ServeCmd struct {
	Host         string `help:"Override the listen host."`
	Port         int    `help:"Override the listen port."`
	WatchServers bool   `name:"watch-servers" help:"Reload tool servers when the servers file changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := cli.loadSettings()
	if err != nil {
		return err
	}
	if c.Host != "" {
		settings.Server.Host = c.Host
	}
	if c.Port != 0 {
		settings.Server.Port = c.Port
	}
	cleanup, err := initLogger(settings.Log.Level, settings.Log.File, settings.Log.Format)
	if err != nil {
		return err
	}
	defer cleanup()

	_, shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter:     settings.Tracing.Exporter,
		Endpoint:     settings.Tracing.Endpoint,
		SamplingRate: settings.Tracing.SamplingRate,
		ServiceName:  settings.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	metrics, metricsHandler, shutdownMetrics, err := observability.NewPrometheus()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	tracer := observability.Tracer()

	store := llm.NewStore(settings.LLM.ModelsFile, settings.LLM.ActiveModelFile)
	if err := store.EnsureFiles(); err != nil {
		return fmt.Errorf("failed to prepare model registry: %w", err)
	}
	providers := llm.NewProviderFactory(settings, llm.WithMetrics(metrics), llm.WithTracer(tracer))
	agents := llm.NewAgentFactory(store, providers)

	manager := mcp.NewManager(
		mcp.NewParamsManager(settings.ToolServerSettings()),
		mcp.StdioLauncher{ClientVersion: league.Version},
		mcp.WithMetrics(metrics),
		mcp.WithTracer(tracer),
		mcp.WithTeardownTimeout(settings.Server.ShutdownTimeout),
	)
	manager.InitializeSystem(ctx)

	srv := server.New(server.Config{
		Addr:           settings.Addr(),
		Name:           settings.Tracing.ServiceName,
		Conversations:  usecase.NewConversationUsecase(agents, manager),
		Models:         usecase.NewModelManagementUsecase(agents),
		ToolServers:    usecase.NewToolServerUsecase(manager),
		MetricsHandler: metricsHandler,
		Metrics:        metrics,
		Tracer:         tracer,
	})
	printStartup(settings)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, settings.Server.ShutdownTimeout)
	})
	if c.WatchServers {
		if path := settings.MCP.ServersConfigFile; path != "" {
			g.Go(func() error {
				if err := mcp.WatchServersFile(gctx, path, manager); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("Servers file watch stopped", "path", path, "error", err)
				}
				return nil
			})
		} else {
			slog.Warn("--watch-servers ignored: no servers config file configured")
		}
	}

	serveErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Tool server shutdown incomplete", "error", err)
	}
	slog.Info("Shutdown complete")
	return serveErr
}

func printStartup(settings *config.Settings) {
	addr := settings.Addr()
	fmt.Printf("\nMCP league backend %s ready\n", league.Version)
	fmt.Printf("   API:         http://%s/api/v1\n", addr)
	fmt.Printf("   Health:      http://%s/health\n", addr)
	fmt.Printf("   Metrics:     http://%s/metrics\n", addr)
	if settings.Tracing.Exporter != "" {
		fmt.Printf("   Tracing:     %s %s\n", settings.Tracing.Exporter, settings.Tracing.Endpoint)
	}
	fmt.Printf("   Models file: %s\n", settings.LLM.ModelsFile)
	fmt.Println("\nPress Ctrl+C to stop")
}
