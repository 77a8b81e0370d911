package trigger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// fakeService answers collect requests by entity id:
// "busy" is rejected with 429 busyFor times, "pending" gets 409, "broken" gets 500.
type fakeService struct {
	mu      sync.Mutex
	paths   []string
	busyFor atomic.Int32
	busy    atomic.Int32
}

func (f *fakeService) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/v1/entities" {
		_, _ = w.Write([]byte(`[{"id":"widget","repo":"octo/widget","kinds":["stars","pr_ratio"]},{"id":"left-pad","package":"left-pad","kinds":["downloads"]}]`))
		return
	}
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1/collect/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	rest := strings.TrimPrefix(r.URL.Path, "/v1/collect/")
	kind, entity, _ := strings.Cut(rest, "/")
	switch entity {
	case "busy":
		if f.busy.Add(1) <= f.busyFor.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"queue_full","message":"queue is full"}`))
			return
		}
	case "pending":
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"conflict","message":"already pending"}`))
		return
	case "broken":
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal_error","message":"store exploded"}`))
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		w.WriteHeader(http.StatusOK)
		errs := "[]"
		if entity == "partial" {
			errs = `["page 2: rate limited"]`
		}
		_, _ = fmt.Fprintf(w, `{"run_id":"run-%s","kind":%q,"entity_id":%q,"written":2,"errors":%s}`, entity, kind, entity, errs)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, `{"status":"accepted","run_id":"run-%s","kind":%q,"entity_id":%q}`, entity, kind, entity)
}

func newConfig(url string) *Config {
	return &Config{
		BaseURL: url,
		Workers: 3,
		Timeout: 5 * time.Second,
		Retries: 3,
		Backoff: time.Millisecond,
		Logger:  logger.Nop(),
	}
}

func TestClientCollect(t *testing.T) {
	convey.Convey("Given a tracker service", t, func() {
		fake := &fakeService{}
		fake.busyFor.Store(2)
		srv := httptest.NewServer(fake)
		defer srv.Close()
		client := NewClient(newConfig(srv.URL + "/"))
		ctx := context.Background()

		convey.Convey("When collecting an owner/repo entity", func() {
			out, err := client.Collect(ctx, Target{Kind: model.KindStars, EntityID: "octo/widget"}, false)

			convey.Convey("Then the slash survives and the run is accepted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out.Status, convey.ShouldEqual, StatusAccepted)
				convey.So(out.RunID, convey.ShouldEqual, "run-octo/widget")
				convey.So(fake.Paths(), convey.ShouldResemble, []string{"/v1/collect/stars/octo/widget"})
			})
		})

		convey.Convey("When waiting for the result", func() {
			out, err := client.Collect(ctx, Target{Kind: model.KindDownloads, EntityID: "left-pad"}, true)

			convey.Convey("Then the collection result is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out.Status, convey.ShouldEqual, StatusCompleted)
				convey.So(out.Result.Written, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the result carries errors", func() {
			out, err := client.Collect(ctx, Target{Kind: model.KindStars, EntityID: "partial"}, true)

			convey.Convey("Then the outcome is failed but the result is kept", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out.Status, convey.ShouldEqual, StatusFailed)
				convey.So(out.Error, convey.ShouldContainSubstring, "rate limited")
				convey.So(out.Result, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the queue is briefly full", func() {
			out, err := client.Collect(ctx, Target{Kind: model.KindStars, EntityID: "busy"}, false)

			convey.Convey("Then the request is retried until accepted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out.Status, convey.ShouldEqual, StatusAccepted)
				convey.So(fake.busy.Load(), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the queue stays full", func() {
			fake.busyFor.Store(100)
			out, err := client.Collect(ctx, Target{Kind: model.KindStars, EntityID: "busy"}, false)

			convey.Convey("Then the retries run out", func() {
				convey.So(errors.Is(err, ErrBusy), convey.ShouldBeTrue)
				convey.So(out.Status, convey.ShouldEqual, StatusFailed)
				convey.So(fake.busy.Load(), convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the series is already pending", func() {
			out, err := client.Collect(ctx, Target{Kind: model.KindStars, EntityID: "pending"}, false)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out.Status, convey.ShouldEqual, StatusPending)
		})

		convey.Convey("When the service fails", func() {
			_, err := client.Collect(ctx, Target{Kind: model.KindStars, EntityID: "broken"}, false)

			convey.Convey("Then the error is final and carries the message", func() {
				convey.So(errors.Is(err, ErrUnexpectedStatus), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "store exploded")
				convey.So(fake.Paths(), convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When listing entities", func() {
			entities, err := client.Entities(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(entities, convey.ShouldHaveLength, 2)
			convey.So(entities[1].Package, convey.ShouldEqual, "left-pad")
		})
	})
}

func TestExpand(t *testing.T) {
	convey.Convey("Given a registry", t, func() {
		entities := []model.Entity{
			{ID: "widget", Kinds: []model.MetricKind{model.KindStars, model.KindPRRatio}},
			{ID: "left-pad", Kinds: []model.MetricKind{model.KindDownloads}},
			{ID: "gadget", Repo: "octo/gadget"},
		}

		convey.Convey("Then every tracked kind becomes a target", func() {
			convey.So(Expand(entities, ""), convey.ShouldResemble, []Target{
				{Kind: model.KindStars, EntityID: "widget"},
				{Kind: model.KindPRRatio, EntityID: "widget"},
				{Kind: model.KindDownloads, EntityID: "left-pad"},
				{Kind: model.KindStars, EntityID: "gadget"},
				{Kind: model.KindPRRatio, EntityID: "gadget"},
				{Kind: model.KindIssueRatio, EntityID: "gadget"},
			})
		})

		convey.Convey("Then a kind filter keeps only matching series", func() {
			convey.So(Expand(entities, model.KindDownloads), convey.ShouldResemble, []Target{
				{Kind: model.KindDownloads, EntityID: "left-pad"},
			})
			convey.So(Expand(entities, model.KindIssueRatio), convey.ShouldResemble, []Target{
				{Kind: model.KindIssueRatio, EntityID: "gadget"},
			})
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a tracker service and mixed targets", t, func() {
		fake := &fakeService{}
		fake.busyFor.Store(1)
		srv := httptest.NewServer(fake)
		defer srv.Close()

		targets := []Target{
			{Kind: model.KindStars, EntityID: "octo/widget"},
			{Kind: model.KindStars, EntityID: "busy"},
			{Kind: model.KindStars, EntityID: "pending"},
			{Kind: model.KindStars, EntityID: "broken"},
		}

		convey.Convey("When running them concurrently", func() {
			outcomes, stats, err := Run(context.Background(), newConfig(srv.URL), targets)

			convey.Convey("Then outcomes keep target order and stats add up", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(outcomes, convey.ShouldHaveLength, 4)
				convey.So(outcomes[0].Status, convey.ShouldEqual, StatusAccepted)
				convey.So(outcomes[1].Status, convey.ShouldEqual, StatusAccepted)
				convey.So(outcomes[2].Status, convey.ShouldEqual, StatusPending)
				convey.So(outcomes[3].Status, convey.ShouldEqual, StatusFailed)
				convey.So(outcomes[3].Target, convey.ShouldResemble, targets[3])

				convey.So(stats.Submitted, convey.ShouldEqual, 4)
				convey.So(stats.Accepted, convey.ShouldEqual, 2)
				convey.So(stats.Pending, convey.ShouldEqual, 1)
				convey.So(stats.Failed, convey.ShouldEqual, 1)
				convey.So(stats.Summary(), convey.ShouldStartWith, "submitted 4: accepted 2")
			})
		})

		convey.Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			outcomes, stats, err := Run(ctx, newConfig(srv.URL), targets)

			convey.Convey("Then nothing succeeds", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(outcomes, convey.ShouldHaveLength, 4)
				convey.So(stats.Failed, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When there is nothing to collect", func() {
			_, _, err := Run(context.Background(), newConfig(srv.URL), nil)
			convey.So(err, convey.ShouldEqual, ErrNoTargets)
		})
	})
}
