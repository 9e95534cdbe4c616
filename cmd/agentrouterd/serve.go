package main

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"AgentRouter/internal/api"
	"AgentRouter/internal/config"
	"AgentRouter/internal/observability/metrics"
	"AgentRouter/pkg/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务与异步任务处理器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(config.Path(configFile))
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("agentrouterd")

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("释放资源失败", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address,
		api.WithAgent(app.agent),
		api.WithTaskService(app.tasks),
		api.WithBreakers(app.breakers),
		api.WithCatalog(app.catalog),
		api.WithMetrics(cfg.Metrics.Enabled && cfg.Metrics.Address == ""),
	)

	g, gctx := errgroup.WithContext(ctx)
	if app.watcher != nil {
		g.Go(func() error { return app.watcher.Run(gctx) })
	}
	g.Go(func() error { return app.processor.Start(gctx) })
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		g.Go(func() error {
			log.Info("指标服务启动", slog.String("address", cfg.Metrics.Address))
			return metrics.StartServer(gctx, cfg.Metrics.Address)
		})
	}
	g.Go(func() error { return server.Start(gctx) })

	log.Info("AgentRouter 已启动",
		slog.Int("handlers", app.catalog.Snapshot().Len()),
		slog.Any("breakers", app.breakers.Names()),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("task_queue", cfg.TaskQueue.Driver),
	)

	if err := g.Wait(); err != nil && !stdErrors.Is(err, context.Canceled) {
		return err
	}
	log.Info("AgentRouter 已停止")
	return nil
}
