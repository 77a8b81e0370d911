package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/pager"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/repository"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/scheduler"
	service "github.com/Mihirgupta25/open-source-tracker/internal/app"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestService(gh *fakeGitHub, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithLogger(logger.Nop()),
		service.WithStoreInstance(repository.NewMemoryStore(context.Background(),
			repository.WithMetricsUpdateInterval(time.Hour))),
		service.WithCollectorOptions(
			service.WithGitHub(gh),
			service.WithPager(pager.New(pager.WithDelay(0), pager.WithBackoff(0), pager.WithLogger(logger.Nop()))),
			service.WithWriteRetry(1, time.Millisecond),
		),
	}
	return service.New(append(base, opts...)...)
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a running service with a GitHub source", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		gh := &fakeGitHub{
			stargazers: &eventPages{name: "stargazers", pages: [][]model.RawEvent{{star(1, 9, "a"), star(2, 9, "b")}}},
			starCount:  2,
			open:       2,
			closed:     6,
		}
		svc := newTestService(gh, service.WithWorkerCount(2))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When a collection is enqueued", func() {
			req, err := svc.Enqueue(ctx, model.KindStars, "octo/widget", model.OriginManual)
			So(err, ShouldBeNil)
			So(req.RunID.String(), ShouldNotBeEmpty)

			Convey("Then a worker writes the timeline", func() {
				So(eventually(func() bool {
					rows, err := svc.GetTimeline(ctx, "octo/widget", model.KindStars, repository.Range{})
					return err == nil && len(rows) == 2
				}), ShouldBeTrue)
			})

			Convey("Then the pending slot is released afterwards", func() {
				So(eventually(func() bool { return svc.Size() == 0 }), ShouldBeTrue)
				_, err := svc.Enqueue(ctx, model.KindStars, "octo/widget", model.OriginManual)
				So(err, ShouldBeNil)
			})
		})

		Convey("When a collection is run synchronously", func() {
			res, err := svc.RunCollectionCycle(ctx, "octo/widget", model.KindPRRatio)

			Convey("Then the result is returned directly", func() {
				So(err, ShouldBeNil)
				So(res.Errors, ShouldBeEmpty)
				So(res.Written, ShouldEqual, 1)

				rows, err := svc.GetTimeline(ctx, "octo/widget", model.KindPRRatio, repository.Range{})
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				So(rows[0].Value, ShouldEqual, 3)
				So(svc.GetStats()["series"], ShouldEqual, 1)
			})
		})
	})
}

func TestServiceDedupe(t *testing.T) {
	Convey("Given a service whose only worker is busy", t, func() {
		ctx := context.Background()
		gh := &fakeGitHub{
			stargazers: &eventPages{pages: [][]model.RawEvent{{star(1, 9, "a")}}, gate: make(chan struct{})},
			starCount:  1,
		}
		svc := newTestService(gh, service.WithWorkerCount(1), service.WithQueueSize(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		opened := false
		release := func() {
			if !opened {
				opened = true
				close(gh.stargazers.gate)
			}
		}
		defer release()

		_, err := svc.Enqueue(ctx, model.KindStars, "octo/widget", model.OriginManual)
		So(err, ShouldBeNil)
		So(eventually(func() bool { return gh.stargazers.calls.Load() == 1 }), ShouldBeTrue)

		Convey("When the same series is requested again", func() {
			_, err := svc.Enqueue(ctx, model.KindStars, "octo/widget", model.OriginScheduler)

			Convey("Then it is rejected as already pending", func() {
				So(err, ShouldWrap, service.ErrAlreadyPending)
				So(svc.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the queue fills up", func() {
			_, err := svc.Enqueue(ctx, model.KindPRRatio, "octo/widget", model.OriginManual)
			So(err, ShouldBeNil)
			_, err = svc.Enqueue(ctx, model.KindIssueRatio, "octo/widget", model.OriginManual)

			Convey("Then further requests are refused and not held as pending", func() {
				So(err, ShouldWrap, service.ErrQueueFull)
				So(svc.Size(), ShouldEqual, 2)
				So(svc.GetStats()["queueLength"], ShouldEqual, 1)
				So(svc.GetStats()["busyWorkers"], ShouldEqual, 1)
			})
		})

		Convey("When the running collection finishes", func() {
			release()

			Convey("Then the series can be requested again", func() {
				So(eventually(func() bool { return svc.Size() == 0 }), ShouldBeTrue)
				_, err := svc.Enqueue(ctx, model.KindStars, "octo/widget", model.OriginManual)
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestServiceScheduler(t *testing.T) {
	Convey("Given a service with a daily schedule and two tracked entities", t, func() {
		ctx := context.Background()
		mClock := quartz.NewMock(t)
		mClock.Set(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))

		gh := &fakeGitHub{stargazers: &eventPages{}, open: 1, closed: 4}
		svc := newTestService(gh,
			service.WithWorkerCount(2),
			service.WithCollectorOptions(service.WithEntities(
				model.Entity{ID: "widget", Repo: "octo/widget", Kinds: []model.MetricKind{model.KindPRRatio}},
				model.Entity{ID: "gadget", Repo: "octo/gadget", Kinds: []model.MetricKind{model.KindPRRatio, model.KindIssueRatio}},
			)),
			service.WithSchedule("0 3 * * *", scheduler.WithClock(mClock)),
		)
		trap := mClock.Trap().NewTimer("scheduler", "wait")
		defer trap.Close()

		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When the service starts", func() {
			call := trap.MustWait(ctx)
			call.MustRelease(ctx)

			Convey("Then every tracked series is collected once", func() {
				So(eventually(func() bool {
					for _, key := range []struct {
						id   string
						kind model.MetricKind
					}{{"widget", model.KindPRRatio}, {"gadget", model.KindPRRatio}, {"gadget", model.KindIssueRatio}} {
						rows, err := svc.GetTimeline(ctx, key.id, key.kind, repository.Range{})
						if err != nil || len(rows) != 1 {
							return false
						}
					}
					return true
				}), ShouldBeTrue)
			})

			Convey("Then the next fire is the following morning", func() {
				So(call.Duration, ShouldEqual, 15*time.Hour)
				stats := svc.GetStats()
				So(stats["entities"], ShouldEqual, 2)
				So(stats["nextFire"], ShouldEqual, "2024-01-06T03:00:00Z")
			})
		})
	})
}

func TestServiceRejectsUnregisteredSeries(t *testing.T) {
	Convey("Given a running service with one registered entity", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		gh := &fakeGitHub{stargazers: &eventPages{}, open: 1, closed: 1}
		svc := newTestService(gh,
			service.WithWorkerCount(1),
			service.WithCollectorOptions(service.WithEntities(
				model.Entity{ID: "widget", Repo: "octo/widget", Kinds: []model.MetricKind{model.KindPRRatio}},
			)),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When an unknown entity is enqueued", func() {
			_, err := svc.Enqueue(ctx, model.KindStars, "nope", model.OriginManual)

			Convey("Then it is refused before reaching the queue", func() {
				So(err, ShouldWrap, model.ErrUnknownEntity)
				So(svc.GetStats()["queueLength"], ShouldEqual, 0)
			})
		})

		Convey("When a kind the entity does not track is enqueued", func() {
			_, err := svc.Enqueue(ctx, model.KindStars, "widget", model.OriginManual)
			So(err, ShouldWrap, service.ErrKindNotTracked)
		})

		Convey("When an unknown entity is collected inline", func() {
			_, err := svc.RunCollectionCycle(ctx, "nope", model.KindPRRatio)
			So(err, ShouldWrap, model.ErrUnknownEntity)
		})

		Convey("When a tracked series is collected inline", func() {
			res, err := svc.RunCollectionCycle(ctx, "widget", model.KindPRRatio)
			So(err, ShouldBeNil)
			So(res.Written, ShouldEqual, 1)
		})
	})
}
