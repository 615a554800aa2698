package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/config"
	"github.com/ayusman/glimmer/internal/controller"
	"github.com/ayusman/glimmer/internal/metric"
	"github.com/ayusman/glimmer/internal/plugin"
	"github.com/ayusman/glimmer/internal/server"
	"github.com/ayusman/glimmer/internal/store"
	"github.com/ayusman/glimmer/internal/transport"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var staticDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the frame loop and the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, flags.logFormat)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, staticDir, logger)
		},
	}
	cmd.Flags().StringVar(&staticDir, "static", "", "directory of static files to serve at /")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, staticDir string, logger *slog.Logger) error {
	points, err := cfg.Points()
	if err != nil {
		return err
	}
	logger.Info("starting glimmer", "lights", len(points), "plugin_dir", cfg.PluginDir, "listen", cfg.Listen)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metric.New(reg)

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	manager := plugin.NewManager(plugin.Config{
		Dir:     cfg.PluginDir,
		Points:  points,
		Timeout: cfg.RPCTimeout,
		Logger:  logger,
	})
	defer manager.Close()
	if err := manager.Discover(); err != nil {
		return err
	}
	logger.Info("plugins discovered", "count", len(manager.List()))

	output, err := transport.NewEndpoints(cfg.Transports, cfg.Backoff, logger, metrics)
	if err != nil {
		return err
	}
	defer output.Close()

	frames := server.NewFrameHub(logger)
	ctrl := controller.New(controller.Config{
		Factory:     manager,
		Output:      output,
		Lights:      len(points),
		Persistence: st,
		Metrics:     metrics,
		Logger:      logger,
		OnFrame:     frames.Publish,
	})
	defer ctrl.Close()

	if err := startAnimation(ctx, ctrl, manager, st, cfg.DefaultAnimation, logger); err != nil {
		return err
	}

	srv := server.New(server.Config{
		StaticDir:  staticDir,
		Controller: ctrl,
		Catalog:    manager,
		Frames:     frames,
		Outputs:    output,
		Gatherer:   reg,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx, cfg.Listen) })

	err = g.Wait()
	logger.Info("glimmer stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startAnimation restores the saved animation, or starts the configured
// default when nothing was saved. A broken saved plugin falls back to the
// default rather than failing startup.
func startAnimation(ctx context.Context, ctrl *controller.Controller, catalog interface{ Has(string) bool }, st *store.Store, fallback string, logger *slog.Logger) error {
	saved, _, err := st.LoadActive(ctx)
	if err != nil {
		return err
	}
	if saved != "" && !catalog.Has(saved) {
		logger.Warn("saved animation is no longer installed", "animation", saved)
		saved = ""
	}
	if saved != "" {
		err := ctrl.Restore(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("could not restore saved animation", "animation", saved, "error", err)
	}
	if fallback == "" || fallback == animation.BlankID {
		return nil
	}
	if !catalog.Has(fallback) {
		logger.Warn("default animation is not installed", "animation", fallback)
		return nil
	}
	if err := ctrl.SwitchAnimation(ctx, fallback); err != nil {
		logger.Warn("could not start default animation", "animation", fallback, "error", err)
	}
	return nil
}
