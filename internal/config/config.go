// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config with defaults; Load layers file and env on top.
// - Durations are configured as integer milliseconds (keys ending in _ms).
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory collection queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of collection workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the pending-request cache. Zero means unbounded.
	DedupeSize int `koanf:"dedupe_size"`

	Store    StoreConfig    `koanf:"store"`
	GitHub   GitHubConfig   `koanf:"github"`
	NPM      NPMConfig      `koanf:"npm"`
	Feed     FeedConfig     `koanf:"feed"`
	Pager    PagerConfig    `koanf:"pager"`
	Schedule ScheduleConfig `koanf:"schedule"`

	// Bucketing maps a metric kind to day, week or hour. Missing kinds use day.
	Bucketing map[string]string `koanf:"bucketing"`

	// DownloadsLookbackDays is how far back each downloads run reads.
	DownloadsLookbackDays int `koanf:"downloads_lookback_days"`

	// Entities is the tracked registry. Empty means any entity id is accepted.
	Entities []EntityConfig `koanf:"entities"`
}

// StoreConfig selects the time-series store.
type StoreConfig struct {
	// Driver is one of memory, sqlite3, postgres, redis.
	Driver         string `koanf:"driver"`
	DSN            string `koanf:"dsn"`
	WriteRetries   int    `koanf:"write_retries"`
	WriteBackoffMS int    `koanf:"write_backoff_ms"`
}

// GitHubConfig configures the GitHub source. An empty token uses anonymous access.
type GitHubConfig struct {
	Token   string `koanf:"token"`
	BaseURL string `koanf:"base_url"`
	Enabled bool   `koanf:"enabled"`
}

// NPMConfig configures the npm downloads source.
type NPMConfig struct {
	BaseURL string `koanf:"base_url"`
	Enabled bool   `koanf:"enabled"`
}

// FeedConfig configures the optional raw event feed. An empty base URL disables it.
type FeedConfig struct {
	BaseURL string `koanf:"base_url"`
}

// PagerConfig is the pagination policy shared by all sources.
type PagerConfig struct {
	MaxPages      int `koanf:"max_pages"`
	PerPage       int `koanf:"per_page"`
	DelayMS       int `koanf:"delay_ms"`
	Retries       int `koanf:"retries"`
	BackoffMS     int `koanf:"backoff_ms"`
	PageTimeoutMS int `koanf:"page_timeout_ms"`
}

// ScheduleConfig configures periodic collection. An empty Cron disables it.
type ScheduleConfig struct {
	Cron       string `koanf:"cron"`
	Timezone   string `koanf:"timezone"`
	RunOnStart bool   `koanf:"run_on_start"`
}

// EntityConfig is one tracked project.
type EntityConfig struct {
	ID      string   `koanf:"id"`
	Repo    string   `koanf:"repo"`
	Package string   `koanf:"package"`
	Kinds   []string `koanf:"kinds"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "json",
		Addr:        ":9080",
		QueueSize:   1024,
		WorkerCount: runtime.NumCPU() * 2,
		DedupeSize:  10_000,
		Store: StoreConfig{
			Driver:         "memory",
			WriteRetries:   3,
			WriteBackoffMS: 500,
		},
		GitHub: GitHubConfig{Enabled: true},
		NPM:    NPMConfig{Enabled: true},
		Pager: PagerConfig{
			MaxPages:      50,
			PerPage:       100,
			DelayMS:       250,
			Retries:       3,
			BackoffMS:     2000,
			PageTimeoutMS: 15_000,
		},
		Schedule: ScheduleConfig{
			Cron:       "0 0 * * *",
			Timezone:   "UTC",
			RunOnStart: true,
		},
		DownloadsLookbackDays: 30,
	}
}

// Location resolves Schedule.Timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ModelEntities converts the registry. Call after Validate.
func (c *Config) ModelEntities() []model.Entity {
	out := make([]model.Entity, 0, len(c.Entities))
	for _, e := range c.Entities {
		ent := model.Entity{ID: e.ID, Repo: e.Repo, Package: e.Package}
		for _, k := range e.Kinds {
			kind, _ := model.ParseKind(k)
			ent.Kinds = append(ent.Kinds, kind)
		}
		out = append(out, ent)
	}
	return out
}

// BucketingFor returns the configured bucketing for kind, day when unset.
func (c *Config) BucketingFor(kind model.MetricKind) model.Bucketing {
	if b, ok := c.Bucketing[string(kind)]; ok && b != "" {
		return model.Bucketing(b)
	}
	return model.BucketDay
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// WriteBackoff returns the delay between store write retries.
func (c *Config) WriteBackoff() time.Duration { return ms(c.Store.WriteBackoffMS) }

// PagerDelay returns the delay between consecutive page requests.
func (c *Config) PagerDelay() time.Duration { return ms(c.Pager.DelayMS) }

// PagerBackoff returns the linear retry step.
func (c *Config) PagerBackoff() time.Duration { return ms(c.Pager.BackoffMS) }

// PageTimeout returns the per-request timeout.
func (c *Config) PageTimeout() time.Duration { return ms(c.Pager.PageTimeoutMS) }

// DownloadsLookback returns the downloads window as a duration.
func (c *Config) DownloadsLookback() time.Duration {
	return time.Duration(c.DownloadsLookbackDays) * 24 * time.Hour
}
