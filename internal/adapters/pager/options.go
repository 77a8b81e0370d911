package pager

import (
	"time"

	"github.com/coder/quartz"

	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// Option applies a configuration option to the Pager.
type Option func(*Pager)

// WithMaxPages caps how many pages one FetchAll visits. Values < 1 are ignored.
func WithMaxPages(n int) Option {
	return func(p *Pager) {
		if n > 0 {
			p.maxPages = n
		}
	}
}

// WithDelay sets the minimum delay between consecutive page requests.
func WithDelay(d time.Duration) Option {
	return func(p *Pager) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// WithRetries sets how many times a transiently failing page is retried.
func WithRetries(n int) Option {
	return func(p *Pager) {
		if n >= 0 {
			p.retries = n
		}
	}
}

// WithBackoff sets the linear backoff step: retry k waits k*d.
func WithBackoff(d time.Duration) Option {
	return func(p *Pager) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

// WithPageTimeout bounds a single page request.
func WithPageTimeout(d time.Duration) Option {
	return func(p *Pager) {
		if d >= 0 {
			p.pageTimeout = d
		}
	}
}

// WithClock sets the clock used for delays and backoff.
func WithClock(c quartz.Clock) Option {
	return func(p *Pager) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets a custom logger for the pager.
func WithLogger(l logger.Logger) Option {
	return func(p *Pager) {
		if l != nil {
			p.logger = l
		}
	}
}
