// Package pager drives paginated retrieval against rate-limited upstream APIs.
//
// A Pager holds only configuration; each FetchAll call returns a fresh Stream whose
// Records sequence fetches pages lazily as it is consumed.
package pager

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/coder/quartz"

	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// Default pager configuration constants.
const (
	defaultMaxPages    = 50
	defaultRetries     = 3
	defaultBackoff     = 2 * time.Second
	defaultDelay       = 250 * time.Millisecond
	defaultPageTimeout = 15 * time.Second
)

// StopReason explains why a stream ended.
type StopReason string

// Stop reasons.
const (
	StopNone        StopReason = ""
	StopExhausted   StopReason = "exhausted"
	StopLastPage    StopReason = "last_page"
	StopMaxPages    StopReason = "max_pages"
	StopRateLimited StopReason = "rate_limited"
	StopTransient   StopReason = "transient_error"
	StopPermanent   StopReason = "permanent_error"
	StopCanceled    StopReason = "canceled"
	StopConsumer    StopReason = "consumer_stopped"
)

// Partial reports whether the stream ended before the upstream was exhausted because
// of a failure or limit rather than by choice of the consumer.
func (r StopReason) Partial() bool {
	switch r {
	case StopMaxPages, StopRateLimited, StopTransient, StopPermanent, StopCanceled:
		return true
	default:
		return false
	}
}

// Cursor addresses one page. Page-number APIs use Page; cursor APIs use Token.
type Cursor struct {
	Page  int
	Token string
}

// Page is one upstream response.
type Page[T any] struct {
	Records []T
	// Skipped counts records on the page that could not be decoded.
	Skipped int
	// Next overrides the default "page+1" cursor advance.
	Next *Cursor
	// Last marks the final page.
	Last bool
}

// Endpoint describes how to request page n of one upstream listing.
type Endpoint[T any] struct {
	// Name labels logs and metrics, e.g. "github.stargazers".
	Name string
	// Start is the first cursor. A zero Start means page 1.
	Start Cursor
	// Fetch requests a single page.
	Fetch func(ctx context.Context, c Cursor) (Page[T], error)
}

// Pager holds the pagination policy.
type Pager struct {
	maxPages    int
	retries     int
	delay       time.Duration
	backoff     time.Duration
	pageTimeout time.Duration
	clock       quartz.Clock
	logger      logger.Logger
}

// New creates a Pager with configuration options.
func New(opts ...Option) *Pager {
	p := &Pager{
		maxPages:    defaultMaxPages,
		retries:     defaultRetries,
		delay:       defaultDelay,
		backoff:     defaultBackoff,
		pageTimeout: defaultPageTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = quartz.NewReal()
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("pager")
	}
	return p
}

// Stream is the lazy result of FetchAll. Its accessors are meaningful once Records
// has been fully iterated or abandoned.
type Stream[T any] struct {
	ctx      context.Context
	pager    *Pager
	endpoint Endpoint[T]

	consumed bool
	pages    int
	records  int
	skipped  int
	stop     StopReason
	err      error
}

// FetchAll prepares a lazy walk over every page of the endpoint. No request is made
// until Records is iterated.
func FetchAll[T any](ctx context.Context, p *Pager, ep Endpoint[T]) *Stream[T] {
	return &Stream[T]{ctx: ctx, pager: p, endpoint: ep}
}

// Pages returns the number of pages fetched successfully.
func (s *Stream[T]) Pages() int { return s.pages }

// Count returns the number of records yielded.
func (s *Stream[T]) Count() int { return s.records }

// Skipped returns the number of malformed records reported by the upstream pages.
func (s *Stream[T]) Skipped() int { return s.skipped }

// StopReason returns why the stream ended.
func (s *Stream[T]) StopReason() StopReason { return s.stop }

// Err returns the error that ended the stream early, if any.
func (s *Stream[T]) Err() error { return s.err }

// Records yields records page by page. The sequence is single-use.
func (s *Stream[T]) Records() iter.Seq[T] {
	return func(yield func(T) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		defer func() {
			metrics.RecordPagerStop(s.endpoint.Name, string(s.stop))
		}()

		cursor := s.endpoint.Start
		if cursor.Page == 0 && cursor.Token == "" {
			cursor.Page = 1
		}

		for {
			if s.pages >= s.pager.maxPages {
				s.stop = StopMaxPages
				return
			}
			if s.pages > 0 {
				if err := s.pager.wait(s.ctx, s.pager.delay); err != nil {
					s.fail(StopCanceled, err)
					return
				}
			}

			page, err := s.fetchWithRetry(cursor)
			if err != nil {
				s.fail(s.classify(err), err)
				return
			}
			s.pages++
			s.skipped += page.Skipped
			metrics.RecordPagerPage(s.endpoint.Name, len(page.Records))

			if len(page.Records) == 0 && page.Skipped == 0 {
				s.stop = StopExhausted
				return
			}
			for _, rec := range page.Records {
				s.records++
				if !yield(rec) {
					s.stop = StopConsumer
					return
				}
			}
			if page.Last {
				s.stop = StopLastPage
				return
			}

			if page.Next != nil {
				cursor = *page.Next
			} else {
				cursor = Cursor{Page: cursor.Page + 1}
			}
		}
	}
}

func (s *Stream[T]) fail(reason StopReason, err error) {
	s.stop = reason
	s.err = err
	s.pager.logger.Warn(s.ctx, "pagination stopped early",
		logger.String("endpoint", s.endpoint.Name),
		logger.String("reason", string(reason)),
		logger.Int("pages_completed", s.pages),
		logger.Error(err),
	)
}

func (s *Stream[T]) classify(err error) StopReason {
	switch {
	case s.ctx.Err() != nil:
		return StopCanceled
	case errors.Is(err, ErrRateLimited):
		return StopRateLimited
	case errors.Is(err, ErrPermanent):
		return StopPermanent
	default:
		return StopTransient
	}
}

// fetchWithRetry requests one page, retrying transient failures with linear backoff.
// Rate-limit and permanent failures return immediately.
func (s *Stream[T]) fetchWithRetry(c Cursor) (Page[T], error) {
	var lastErr error
	for attempt := 0; attempt <= s.pager.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordPagerRetry(s.endpoint.Name)
			if err := s.pager.wait(s.ctx, time.Duration(attempt)*s.pager.backoff); err != nil {
				return Page[T]{}, err
			}
		}

		page, err := s.fetchOnce(c)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if s.ctx.Err() != nil || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrPermanent) {
			return Page[T]{}, err
		}
		s.pager.logger.Debug(s.ctx, "page request failed",
			logger.String("endpoint", s.endpoint.Name),
			logger.Int("page", c.Page),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	return Page[T]{}, fmt.Errorf("page %d after %d attempts: %w", c.Page, s.pager.retries+1, lastErr)
}

func (s *Stream[T]) fetchOnce(c Cursor) (Page[T], error) {
	ctx := s.ctx
	if s.pager.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pager.pageTimeout)
		defer cancel()
	}
	return s.endpoint.Fetch(ctx, c)
}

func (p *Pager) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := p.clock.NewTimer(d, "pager", "wait")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
