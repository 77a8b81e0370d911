package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/pager"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/repository"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/scheduler"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/source"
	"github.com/Mihirgupta25/open-source-tracker/internal/config"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// CollectorOptionsFromConfig builds the sources, pager and policies described by cfg.
func CollectorOptionsFromConfig(cfg *config.Config, log logger.Logger) ([]CollectorOption, error) {
	opts := []CollectorOption{
		WithPager(pager.New(
			pager.WithMaxPages(cfg.Pager.MaxPages),
			pager.WithDelay(cfg.PagerDelay()),
			pager.WithRetries(cfg.Pager.Retries),
			pager.WithBackoff(cfg.PagerBackoff()),
			pager.WithPageTimeout(cfg.PageTimeout()),
			pager.WithLogger(log.Named("pager")),
		)),
		WithEntities(cfg.ModelEntities()...),
		WithLocation(cfg.Location()),
		WithDownloadsLookback(cfg.DownloadsLookback()),
		WithWriteRetry(cfg.Store.WriteRetries, cfg.WriteBackoff()),
	}
	for _, kind := range model.AllKinds() {
		opts = append(opts, WithBucketing(kind, cfg.BucketingFor(kind)))
	}

	if cfg.GitHub.Enabled {
		gh, err := source.NewGitHub(
			source.WithBaseURL(cfg.GitHub.BaseURL),
			source.WithToken(cfg.GitHub.Token),
			source.WithPerPage(cfg.Pager.PerPage),
			source.WithLogger(log.Named("github")),
		)
		if err != nil {
			return nil, fmt.Errorf("github source: %w", err)
		}
		opts = append(opts, WithGitHub(gh))
	}
	if cfg.NPM.Enabled {
		opts = append(opts, WithDownloads(source.NewNPM(
			source.WithBaseURL(cfg.NPM.BaseURL),
			source.WithLogger(log.Named("npm")),
		)))
	}
	if cfg.Feed.BaseURL != "" {
		feed, err := source.NewFeed(
			source.WithBaseURL(cfg.Feed.BaseURL),
			source.WithPerPage(cfg.Pager.PerPage),
			source.WithLogger(log.Named("feed")),
		)
		if err != nil {
			return nil, fmt.Errorf("event feed: %w", err)
		}
		opts = append(opts, WithEventFeed(feed))
	}
	return opts, nil
}

// OptionsFromConfig builds the service options described by cfg.
func OptionsFromConfig(cfg *config.Config, log logger.Logger) ([]Option, error) {
	collectorOpts, err := CollectorOptionsFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithLogger(log),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithStore(cfg.Store.Driver, cfg.Store.DSN),
		WithCollectorOptions(collectorOpts...),
		WithSchedule(cfg.Schedule.Cron,
			scheduler.WithLocation(cfg.Location()),
			scheduler.WithRunOnStart(cfg.Schedule.RunOnStart),
		),
	}, nil
}

// RunOnce opens the configured store, runs a single collection cycle and closes the
// store again. It serves one-shot callers such as the collect command.
func RunOnce(ctx context.Context, cfg *config.Config, log logger.Logger, entityID string, kind model.MetricKind) (model.CollectionResult, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		return model.CollectionResult{}, err
	}
	collectorOpts, err := CollectorOptionsFromConfig(cfg, log)
	if err != nil {
		return model.CollectionResult{}, err
	}

	store, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DSN,
		repository.WithLogger(log), repository.WithMetricsUpdateInterval(time.Hour))
	if err != nil {
		return model.CollectionResult{}, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "closing store failed", logger.Error(err))
		}
	}()

	c := NewCollector(store, append([]CollectorOption{
		WithCollectorLogger(log.Named("collector")),
		WithStoreDriver(cfg.Store.Driver),
	}, collectorOpts...)...)
	if _, err := c.Resolve(entityID, kind); err != nil {
		return model.CollectionResult{}, err
	}
	return c.RunCollectionCycle(ctx, entityID, kind), nil
}
