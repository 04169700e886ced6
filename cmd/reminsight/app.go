package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/config"
	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/explain"
	"github.com/rushteam/reminsight/feast"
	"github.com/rushteam/reminsight/feature"
	"github.com/rushteam/reminsight/model"
	"github.com/rushteam/reminsight/pkg/dsl"
	"github.com/rushteam/reminsight/pkg/logger"
	"github.com/rushteam/reminsight/service"
	"github.com/rushteam/reminsight/store"
)

// app 持有按配置装配好的组件
type app struct {
	cfg       *config.Config
	files     *artifact.FileStore
	resolver  *service.Resolver
	predictor *service.Predictor
	timeline  core.TimelineStore
	logger    *logger.Logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	l := logger.Get().With("app", cfg.App.Name)
	if cfg.Runtime.ONNXLibrary != "" {
		model.SetONNXLibraryPath(cfg.Runtime.ONNXLibrary)
	}

	a := &app{cfg: cfg, logger: l}
	a.files = artifact.NewFileStore(cfg.Artifacts.Root,
		artifact.WithVersionPrefix(cfg.Artifacts.VersionPrefix),
		artifact.WithProvenanceFile(cfg.Artifacts.ProvenanceFile),
		artifact.WithLogger(l),
	)
	a.resolver = service.NewResolver(a.files,
		service.WithVersionCacheSize(cfg.Artifacts.CacheSize),
		service.WithResolverLogger(l),
	)

	engine := explain.NewEngine(
		explain.WithEnabled(cfg.Explain.Enabled),
		explain.WithTopK(cfg.Explain.TopK),
		explain.WithSamples(cfg.Explain.Samples),
		explain.WithSeed(cfg.Explain.Seed),
		explain.WithLogger(l),
	)
	opts := []service.PredictorOption{
		service.WithPolicy(cfg.Policy()),
		service.WithPinnedVersion(cfg.Artifacts.PinnedVersion),
		service.WithEngine(engine),
		service.WithMonitor(feature.NewCoverageMonitor(1000)),
		service.WithMaxRows(cfg.Server.MaxRows),
		service.WithPredictorLogger(l),
	}

	if cfg.Schema.Enabled {
		guard, err := dsl.NewGuard(cfg.GuardRules(), l)
		if err != nil {
			return nil, fmt.Errorf("schema rules: %w", err)
		}
		opts = append(opts, service.WithGuard(guard))
	}

	if cfg.History.Enabled {
		st, err := store.Open(ctx, cfg.History.Backend, store.RedisConfig{
			Addr:     cfg.History.Redis.Addr,
			Password: cfg.History.Redis.Password,
			DB:       cfg.History.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.timeline = st
		opts = append(opts, service.WithHistory(service.NewHistory(st,
			service.WithHistoryMaxEntries(cfg.History.MaxEntries),
			service.WithHistoryTTL(cfg.History.TTLSeconds),
			service.WithHistoryKeyPrefix(cfg.History.KeyPrefix),
			service.WithHistoryLogger(l),
		)))
	}

	if cfg.Feast.Enabled {
		enricher, err := feast.NewEnricher(feast.Config{
			Host:        cfg.Feast.Host,
			Port:        cfg.Feast.Port,
			Project:     cfg.Feast.Project,
			FeatureView: cfg.Feast.FeatureView,
			EntityKey:   cfg.Feast.EntityKey,
			Token:       cfg.Feast.Token,
			Timeout:     cfg.Feast.Timeout,
		}, l)
		if err != nil {
			a.closeTimeline()
			return nil, err
		}
		opts = append(opts, service.WithEnricher(enricher))
	}

	a.predictor = service.NewPredictor(a.resolver, opts...)
	l.Infow("components ready",
		"artifacts", cfg.Artifacts.Root,
		"policy", cfg.Policy(),
		"pinned_version", cfg.Artifacts.PinnedVersion,
		"explain", cfg.Explain.Enabled,
		"history", cfg.History.Enabled,
		"feast", cfg.Feast.Enabled,
	)
	return a, nil
}

func (a *app) closeTimeline() error {
	if a.timeline == nil {
		return nil
	}
	return a.timeline.Close()
}

// Close 释放模型运行时与存储连接
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.predictor != nil {
		errs = append(errs, a.predictor.Close(ctx))
	}
	errs = append(errs, a.closeTimeline())
	return errors.Join(errs...)
}
