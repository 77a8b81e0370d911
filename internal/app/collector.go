package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/pager"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/repository"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/source"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/ratio"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/reduce"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/timeline"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// Default collector configuration constants.
const (
	defaultWriteRetries      = 3
	defaultWriteBackoff      = 500 * time.Millisecond
	defaultDownloadsLookback = 30 * 24 * time.Hour
)

// Collection outcomes used as metric labels.
const (
	outcomeOK      = "ok"
	outcomePartial = "partial"
	outcomeFailed  = "failed"
)

// GitHubSource reads repository metrics from GitHub.
type GitHubSource interface {
	Stargazers(repo string) pager.Endpoint[model.RawEvent]
	StarCount(ctx context.Context, repo string) (int64, error)
	OpenClosed(ctx context.Context, repo string, subject source.Subject) (open, closed int64, err error)
}

// DownloadSource reads daily package downloads.
type DownloadSource interface {
	Downloads(pkg string, from, to time.Time) pager.Endpoint[source.DailyCount]
}

// EventSource reads raw add/remove events for an entity.
type EventSource interface {
	Events(entityID string) pager.Endpoint[model.RawEvent]
}

// Collector runs collection cycles and serves timelines read back from the store.
type Collector struct {
	store     repository.Store
	github    GitHubSource
	downloads DownloadSource
	feed      EventSource
	pager     *pager.Pager

	entities  map[string]model.Entity
	bucketing map[model.MetricKind]model.Bucketing
	location  *time.Location
	lookback  time.Duration

	storeDriver  string
	writeRetries uint64
	writeBackoff time.Duration

	clock  quartz.Clock
	flight singleflight.Group
	logger logger.Logger
}

// CollectorOption applies a configuration option to the Collector.
type CollectorOption func(*Collector)

// WithGitHub sets the GitHub source used by stars and ratio kinds.
func WithGitHub(g GitHubSource) CollectorOption {
	return func(c *Collector) { c.github = g }
}

// WithDownloads sets the source used by the downloads kind.
func WithDownloads(d DownloadSource) CollectorOption {
	return func(c *Collector) { c.downloads = d }
}

// WithEventFeed adds a feed whose events are merged into star reconstructions.
func WithEventFeed(f EventSource) CollectorOption {
	return func(c *Collector) { c.feed = f }
}

// WithPager sets the pager used for every paginated source.
func WithPager(p *pager.Pager) CollectorOption {
	return func(c *Collector) {
		if p != nil {
			c.pager = p
		}
	}
}

// WithEntities sets the tracked entity registry. With an empty registry any entity id
// is accepted and used directly as repository and package name.
func WithEntities(entities ...model.Entity) CollectorOption {
	return func(c *Collector) {
		for _, e := range entities {
			c.entities[e.ID] = e
		}
	}
}

// WithBucketing overrides the bucketing of one metric kind.
func WithBucketing(kind model.MetricKind, b model.Bucketing) CollectorOption {
	return func(c *Collector) {
		if b != "" {
			c.bucketing[kind] = b
		}
	}
}

// WithLocation sets the civil timezone for day and week buckets.
func WithLocation(loc *time.Location) CollectorOption {
	return func(c *Collector) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithDownloadsLookback sets how far back each downloads run reads.
func WithDownloadsLookback(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.lookback = d
		}
	}
}

// WithWriteRetry sets how often and how far apart failed store writes are retried.
func WithWriteRetry(retries int, wait time.Duration) CollectorOption {
	return func(c *Collector) {
		if retries >= 0 {
			c.writeRetries = uint64(retries)
		}
		if wait > 0 {
			c.writeBackoff = wait
		}
	}
}

// WithStoreDriver names the store driver in metrics.
func WithStoreDriver(driver string) CollectorOption {
	return func(c *Collector) {
		if driver != "" {
			c.storeDriver = driver
		}
	}
}

// WithCollectorClock swaps the clock, mostly for tests.
func WithCollectorClock(clock quartz.Clock) CollectorOption {
	return func(c *Collector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCollectorLogger sets a custom logger for the collector.
func WithCollectorLogger(l logger.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCollector wires a collector around store.
func NewCollector(store repository.Store, opts ...CollectorOption) *Collector {
	c := &Collector{
		store:    store,
		entities: make(map[string]model.Entity),
		bucketing: map[model.MetricKind]model.Bucketing{
			model.KindStars:      model.BucketDay,
			model.KindPRRatio:    model.BucketDay,
			model.KindIssueRatio: model.BucketDay,
			model.KindDownloads:  model.BucketDay,
		},
		location:     time.UTC,
		lookback:     defaultDownloadsLookback,
		storeDriver:  "unknown",
		writeRetries: defaultWriteRetries,
		writeBackoff: defaultWriteBackoff,
		clock:        quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("collector")
	}
	if c.pager == nil {
		c.pager = pager.New(pager.WithLogger(c.logger), pager.WithClock(c.clock))
	}
	return c
}

// Entities returns the tracked registry ordered by id.
func (c *Collector) Entities() []model.Entity {
	out := make([]model.Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Bucketing returns the bucketing used for kind.
func (c *Collector) Bucketing(kind model.MetricKind) model.Bucketing {
	if b, ok := c.bucketing[kind]; ok {
		return b
	}
	return model.BucketDay
}

// RunCollectionCycle collects one metric kind for one entity now.
func (c *Collector) RunCollectionCycle(ctx context.Context, entityID string, kind model.MetricKind) model.CollectionResult {
	return c.Run(ctx, model.NewCollectionRequest(kind, entityID, model.OriginManual, c.clock.Now()))
}

// Run executes req. A request for a series that is already being collected joins the
// running cycle and gets its result with Shared set.
func (c *Collector) Run(ctx context.Context, req model.CollectionRequest) model.CollectionResult {
	leader := false
	v, _, _ := c.flight.Do(req.Key().String(), func() (any, error) {
		leader = true
		return c.collect(ctx, req), nil
	})

	res := v.(model.CollectionResult) //nolint:forcetypeassert // collect always returns a CollectionResult
	if !leader {
		res.Shared = true
		res.Errors = append([]string(nil), res.Errors...)
		metrics.RecordCollectionShared(string(req.Kind))
		c.logger.Debug(ctx, "joined in-flight collection",
			logger.String("series", req.Key().String()),
			logger.String("leader_run_id", res.RunID),
		)
	}
	return res
}

func (c *Collector) collect(ctx context.Context, req model.CollectionRequest) model.CollectionResult {
	res := model.CollectionResult{
		RunID:     req.RunID.String(),
		Kind:      string(req.Kind),
		EntityID:  req.EntityID,
		StartedAt: c.clock.Now(),
	}
	ctx = logger.ContextWithFields(ctx,
		logger.String("run_id", res.RunID),
		logger.String("series", req.Key().String()),
	)

	entity, err := c.Resolve(req.EntityID, req.Kind)
	if err == nil {
		switch req.Kind {
		case model.KindStars:
			err = c.collectStars(ctx, entity, &res)
		case model.KindPRRatio:
			err = c.collectRatio(ctx, entity, model.KindPRRatio, source.SubjectPullRequests, &res)
		case model.KindIssueRatio:
			err = c.collectRatio(ctx, entity, model.KindIssueRatio, source.SubjectIssues, &res)
		case model.KindDownloads:
			err = c.collectDownloads(ctx, entity, &res)
		}
	}
	res.AddError(err)
	res.FinishedAt = c.clock.Now()

	outcome := outcomeOK
	switch {
	case len(res.Errors) > 0 && res.Written > 0:
		outcome = outcomePartial
	case len(res.Errors) > 0:
		outcome = outcomeFailed
	}
	metrics.RecordCollectionRun(res.Kind, outcome, float64(res.FinishedAt.Sub(res.StartedAt).Milliseconds()))
	metrics.RecordSamplesWritten(res.Kind, res.Written)
	if res.Skipped > 0 {
		metrics.RecordRecordsSkipped(res.Kind, res.Skipped)
	}
	return res
}

// Resolve finds the registry entry for id and checks that it tracks kind. With an
// empty registry every id resolves to an ad-hoc entity.
func (c *Collector) Resolve(id string, kind model.MetricKind) (model.Entity, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		return model.Entity{}, err
	}
	if len(c.entities) == 0 {
		return model.AdHocEntity(id), nil
	}
	e, ok := c.entities[id]
	if !ok {
		return model.Entity{}, fmt.Errorf("%w: %q", model.ErrUnknownEntity, id)
	}
	if !e.Tracks(kind) {
		return model.Entity{}, fmt.Errorf("%w: %s for %q", ErrKindNotTracked, kind, id)
	}
	return e, nil
}

// collectStars replays every stargazer event (plus feed events, when a feed is
// configured) and writes the reconstructed timeline, clamped to the live star count.
func (c *Collector) collectStars(ctx context.Context, e model.Entity, res *model.CollectionResult) error {
	const op = "collector.stars"
	if c.github == nil {
		return fmt.Errorf("%s: github: %w", op, ErrSourceNotConfigured)
	}

	events := drain(ctx, c.pager, c.github.Stargazers(e.Repo), res)
	if c.feed != nil {
		// the feed repeats the Started event of every current stargazer
		events = uniqueEvents(append(events, drain(ctx, c.pager, c.feed.Events(e.ID), res)...))
	}

	opts := timeline.Options{
		Bucketing: c.Bucketing(model.KindStars),
		Location:  c.location,
		Now:       c.clock.Now(),
	}
	if total, err := c.github.StarCount(ctx, e.Repo); err != nil {
		res.AddError(fmt.Errorf("%s: star count: %w", op, err))
	} else {
		opts.CurrentKnownValue = &total
	}

	key := model.SeriesKey{Kind: model.KindStars, EntityID: e.ID}
	return c.writeAll(ctx, timeline.Reconstruct(key, events, opts), res)
}

// collectRatio samples the open and closed counters back to back and stores
// closed/open for the current period.
func (c *Collector) collectRatio(
	ctx context.Context, e model.Entity, kind model.MetricKind, subject source.Subject, res *model.CollectionResult,
) error {
	op := "collector." + string(kind)
	if c.github == nil {
		return fmt.Errorf("%s: github: %w", op, ErrSourceNotConfigured)
	}

	open, closed, err := c.github.OpenClosed(ctx, e.Repo, subject)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	period := timeline.PeriodLabel(c.clock.Now(), c.Bucketing(kind), c.location)
	sample := ratio.NewSample(e.ID, period, closed, open).MetricSample(kind)
	return c.writeAll(ctx, []model.MetricSample{sample}, res)
}

// collectDownloads sums daily downloads per bucket over the lookback window. The
// window start is aligned to a bucket boundary so no bucket is written half full.
func (c *Collector) collectDownloads(ctx context.Context, e model.Entity, res *model.CollectionResult) error {
	const op = "collector.downloads"
	if c.downloads == nil {
		return fmt.Errorf("%s: npm: %w", op, ErrSourceNotConfigured)
	}

	// npm days are UTC days
	b := c.Bucketing(model.KindDownloads)
	now := c.clock.Now()
	from := timeline.BucketStart(now.Add(-c.lookback), b, time.UTC)

	var (
		order []string
		sums  = make(map[string]int64)
	)
	stream := pager.FetchAll(ctx, c.pager, c.downloads.Downloads(e.Package, from, now))
	for d := range stream.Records() {
		label := timeline.PeriodLabel(d.Day, b, time.UTC)
		if _, ok := sums[label]; !ok {
			order = append(order, label)
		}
		sums[label] += d.Count
	}
	noteStream(stream.Pages(), stream.Skipped(), stream.StopReason(), stream.Err(), res)

	samples := make([]model.MetricSample, 0, len(order))
	for _, label := range order {
		samples = append(samples, model.MetricSample{
			Kind:     model.KindDownloads,
			EntityID: e.ID,
			Period:   label,
			Value:    float64(sums[label]),
		})
	}
	return c.writeAll(ctx, samples, res)
}

// drain reads a whole event stream and folds its accounting into res.
func drain(ctx context.Context, p *pager.Pager, ep pager.Endpoint[model.RawEvent], res *model.CollectionResult) []model.RawEvent {
	stream := pager.FetchAll(ctx, p, ep)
	var events []model.RawEvent
	for ev := range stream.Records() {
		events = append(events, ev)
	}
	noteStream(stream.Pages(), stream.Skipped(), stream.StopReason(), stream.Err(), res)
	return events
}

// uniqueEvents drops repeats of the same actor, kind and instant, keeping the first.
// Events without an actor cannot be matched and are all kept.
func uniqueEvents(events []model.RawEvent) []model.RawEvent {
	type eventKey struct {
		actor string
		kind  model.EventKind
		at    int64
	}
	seen := make(map[eventKey]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		if ev.Actor != "" {
			k := eventKey{actor: ev.Actor, kind: ev.Kind, at: ev.OccurredAt.UnixNano()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, ev)
	}
	return out
}

func noteStream(pages, skipped int, stop pager.StopReason, err error, res *model.CollectionResult) {
	res.PagesFetched += pages
	res.Skipped += skipped
	if stop.Partial() || res.StopReason == "" {
		res.StopReason = string(stop)
	}
	res.AddError(err)
}

// writeAll upserts samples in order. A write that still fails after its retries ends
// the run; samples already written stay.
func (c *Collector) writeAll(ctx context.Context, samples []model.MetricSample, res *model.CollectionResult) error {
	for _, s := range samples {
		if err := c.write(ctx, s); err != nil {
			return fmt.Errorf("collector.write %s@%s: %w", s.Key(), s.Period, err)
		}
		res.Written++
	}
	return nil
}

func (c *Collector) write(ctx context.Context, s model.MetricSample) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.writeBackoff), c.writeRetries), ctx)

	operation := func() error {
		_, err := c.store.Write(ctx, s)
		if errors.Is(err, repository.ErrInvalidSample) || errors.Is(err, repository.ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordStoreWriteRetry(c.storeDriver)
		c.logger.Warn(ctx, "store write failed, retrying",
			logger.String("series", s.Key().String()),
			logger.String("period", s.Period),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}
	return backoff.RetryNotify(operation, policy, notify)
}

// GetTimeline returns the series for entityID and kind inside r with one row per
// period, the most recently written one.
func (c *Collector) GetTimeline(ctx context.Context, entityID string, kind model.MetricKind, r repository.Range) ([]model.MetricSample, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	rows, err := c.store.Query(ctx, model.SeriesKey{Kind: kind, EntityID: entityID}, r)
	if err != nil {
		return nil, fmt.Errorf("collector.timeline: %w", err)
	}

	loc := c.location
	if kind == model.KindDownloads {
		loc = time.UTC
	}
	return reduce.LatestWins(rows, reduce.WithNormalizedPeriods(c.Bucketing(kind), loc)), nil
}
