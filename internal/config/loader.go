package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

const envPrefix = "TRACKER_"

// sections are the nested config blocks; TRACKER_STORE_DRIVER maps to store.driver.
var sections = []string{"store", "github", "npm", "feed", "pager", "schedule", "bucketing"}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TRACKER_CONFIG is set
//  3. env (prefix TRACKER_)
func Load(_ context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// Environment variables: TRACKER_ADDR, TRACKER_QUEUE_SIZE, TRACKER_PAGER_MAX_PAGES, ...
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TRACKER_PAGER_MAX_PAGES to pager.max_pages and TRACKER_QUEUE_SIZE to
// queue_size.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(s, sec+"_"); ok {
			return sec + "." + rest
		}
	}
	return s
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.QueueSize <= 0:
		return invalid("queue_size must be positive, got %d", c.QueueSize)
	case c.WorkerCount <= 0:
		return invalid("worker_count must be positive, got %d", c.WorkerCount)
	case c.DedupeSize < 0:
		return invalid("dedupe_size must not be negative, got %d", c.DedupeSize)
	case c.Store.WriteRetries < 0:
		return invalid("store.write_retries must not be negative, got %d", c.Store.WriteRetries)
	case c.Pager.MaxPages <= 0:
		return invalid("pager.max_pages must be positive, got %d", c.Pager.MaxPages)
	case c.Pager.PerPage <= 0 || c.Pager.PerPage > 100:
		return invalid("pager.per_page must be in 1..100, got %d", c.Pager.PerPage)
	case c.Pager.DelayMS < 0 || c.Pager.BackoffMS < 0 || c.Pager.Retries < 0:
		return invalid("pager delays and retries must not be negative")
	case c.DownloadsLookbackDays <= 0:
		return invalid("downloads_lookback_days must be positive, got %d", c.DownloadsLookbackDays)
	}

	switch c.Store.Driver {
	case "memory", "sqlite3", "postgres", "redis":
	default:
		return invalid("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return invalid("store.dsn is required for driver %q", c.Store.Driver)
	}

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return invalid("schedule.timezone %q: %v", c.Schedule.Timezone, err)
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return invalid("schedule.cron %q: %v", c.Schedule.Cron, err)
		}
	}

	for kind, b := range c.Bucketing {
		if _, err := model.ParseKind(kind); err != nil {
			return invalid("bucketing: %v", err)
		}
		switch model.Bucketing(b) {
		case model.BucketDay, model.BucketWeek, model.BucketHour:
		default:
			return invalid("bucketing.%s: unknown bucketing %q", kind, b)
		}
	}

	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		if e.ID == "" {
			return invalid("entities[%d]: id must not be empty", i)
		}
		if seen[e.ID] {
			return invalid("entities[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		if e.Repo == "" && e.Package == "" {
			return invalid("entities[%d]: %q needs a repo or a package", i, e.ID)
		}
		for _, k := range e.Kinds {
			if _, err := model.ParseKind(k); err != nil {
				return invalid("entities[%d]: %v", i, err)
			}
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
