package source

import (
	"net/http"
	"time"

	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// Default source configuration constants.
const (
	defaultPerPage     = 100
	defaultHTTPTimeout = 30 * time.Second
	maxBodyBytes       = 8 << 20
)

type options struct {
	baseURL    string
	token      string
	perPage    int
	httpClient *http.Client
	logger     logger.Logger
}

// Option applies a configuration option to a source.
type Option func(*options)

// WithBaseURL points the source at a different API root, e.g. a GitHub Enterprise host
// or a test server.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithPerPage sets the page size requested from paginated listings.
func WithPerPage(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.perPage = n
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLogger sets a custom logger for the source.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(name string, opts []Option) options {
	o := options{perPage: defaultPerPage}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if o.logger == nil {
		o.logger = logger.Get().Named(name)
	}
	return o
}
