package repository

import (
	"time"

	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

const defaultMetricsUpdateInterval = 15 * time.Second

type settings struct {
	metricsUpdateInterval time.Duration
	keyPrefix             string
	logger                logger.Logger
}

// Option applies a configuration option to a store.
type Option func(*settings)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *settings) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithKeyPrefix namespaces the keys of the Redis store.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func buildSettings(opts []Option) settings {
	s := settings{
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		keyPrefix:             "tracker",
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) namedLogger(name string) logger.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logger.Get().Named(name)
}
