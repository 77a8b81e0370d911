package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// Worker configuration constants.
const (
	workerChannelMultiplier = 2
)

// Expand lists one target per tracked kind of every entity. When kind is set only
// entities tracking it contribute.
func Expand(entities []model.Entity, kind model.MetricKind) []Target {
	var targets []Target
	for _, e := range entities {
		for _, k := range e.TrackedKinds() {
			if kind != "" && k != kind {
				continue
			}
			targets = append(targets, Target{Kind: k, EntityID: e.ID})
		}
	}
	return targets
}

// Run submits every target with cfg.Workers concurrent requests. Outcomes come back in
// target order. The returned error is nil unless the run could not start at all.
func Run(ctx context.Context, cfg *Config, targets []Target) ([]Outcome, Stats, error) {
	stats := Stats{StartTime: time.Now()}
	if len(targets) == 0 {
		return nil, stats, ErrNoTargets
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	log = log.Named("trigger")
	log.Info(ctx, "submitting collection requests",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("targets", len(targets)),
		logger.Int("workers", cfg.Workers),
		logger.Bool("wait", cfg.Wait))

	client := NewClient(cfg)
	outcomes := make([]Outcome, len(targets))
	jobs := make(chan int, max(cfg.Workers, 1)*workerChannelMultiplier)

	var wg sync.WaitGroup
	for i := 0; i < max(cfg.Workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				t := targets[idx]
				out, err := client.Collect(ctx, t, cfg.Wait)
				if err != nil {
					log.Warn(ctx, "collection request failed", logger.String("target", t.String()), logger.Error(err))
				}
				outcomes[idx] = out
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range targets {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	for i, out := range outcomes {
		if out.Status == "" {
			// never dispatched
			out = Outcome{Target: targets[i], Status: StatusFailed, Error: "not submitted"}
			if err := ctx.Err(); err != nil {
				out.Error = err.Error()
			}
			outcomes[i] = out
		}
		stats.Submitted++
		switch out.Status {
		case StatusAccepted:
			stats.Accepted++
		case StatusCompleted:
			stats.Completed++
		case StatusPending:
			stats.Pending++
		default:
			stats.Failed++
		}
	}
	stats.Duration = time.Since(stats.StartTime)

	log.Info(ctx, "collection requests finished",
		logger.Int("accepted", stats.Accepted),
		logger.Int("completed", stats.Completed),
		logger.Int("pending", stats.Pending),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration))
	return outcomes, stats, nil
}

// Summary renders stats for humans.
func (s Stats) Summary() string {
	return fmt.Sprintf("submitted %d: accepted %d, completed %d, pending %d, failed %d (%s)",
		s.Submitted, s.Accepted, s.Completed, s.Pending, s.Failed, s.Duration.Round(time.Millisecond))
}
