package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/reminsight/pkg/logger"
	"github.com/rushteam/reminsight/server"
	"github.com/rushteam/reminsight/service"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warnw("failed to release resources", "error", err)
		}
	}()

	// 启动时预热 latest，失败不阻止启动，/health 会报告 degraded
	if b, err := a.resolver.Resolve(ctx, cfg.Artifacts.PinnedVersion); err != nil {
		a.logger.Warnw("no model loaded at startup", "root", cfg.Artifacts.Root, "error", err)
	} else {
		a.logger.Infow("model loaded", "version", b.Version, "runtime", b.Runtime(), "features", len(b.Features))
	}

	srv := server.New(a.predictor, cfg.Server, a.logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.Artifacts.Watch {
		w := service.NewWatcher(cfg.Artifacts.Root, cfg.Artifacts.VersionPrefix, cfg.Artifacts.Debounce,
			service.ResolverRefresh(a.resolver), a.logger)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}
