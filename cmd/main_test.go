package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/http/api"
	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/http/swagger"
	app "github.com/Mihirgupta25/open-source-tracker/internal/app"
	"github.com/Mihirgupta25/open-source-tracker/internal/config"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

type fakeStats map[string]interface{}

func (f fakeStats) GetStats() map[string]interface{} { return f }

// gaugeValue reads a gauge from the custom registry by its full name.
func gaugeValue(name string) (float64, bool) {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return 0, false
	}
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		return mf.GetMetric()[0].GetGauge().GetValue(), true
	}
	return 0, false
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the metric updaters", t, func() {
		convey.Convey("When updating system metrics", func() {
			updateSystemMetrics()

			convey.Convey("Then the goroutine gauge is set", func() {
				v, ok := gaugeValue("tracker_collector_system_goroutines")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(v, convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When updating service metrics from stats", func() {
			updateServiceMetrics(fakeStats{
				"queueLength": 7,
				"queueSize":   64,
				"busyWorkers": 2,
				"series":      5,
			})

			convey.Convey("Then the gauges follow the stats", func() {
				v, ok := gaugeValue("tracker_collector_queue_size")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(v, convey.ShouldEqual, 7)

				v, ok = gaugeValue("tracker_collector_queue_capacity")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(v, convey.ShouldEqual, 64)

				v, ok = gaugeValue("tracker_collector_store_series")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(v, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When stats are missing or mistyped", func() {
			convey.So(func() {
				updateServiceMetrics(fakeStats{"started": false, "queueLength": "many"})
			}, convey.ShouldNotPanic)
		})

		convey.Convey("When the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			convey.Convey("Then both updater loops return", func() {
				done := make(chan struct{})
				go func() {
					startSystemMetricsUpdater(ctx)
					startServiceMetricsUpdater(ctx, fakeStats{})
					close(done)
				}()

				select {
				case <-done:
				case <-time.After(2 * time.Second):
					t.Fatal("updaters did not stop")
				}
			})
		})
	})
}

func TestApplicationWiring(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.Schedule.Cron = ""
		cfg.GitHub.Enabled = false
		cfg.NPM.Enabled = false

		opts, err := app.OptionsFromConfig(cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)

		svc := app.New(opts...)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		router := api.NewRouter(ctx, api.NewServer(svc, svc))
		swagger.Register(ctx, router)

		get := func(target string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, http.NoBody))
			return w
		}

		convey.Convey("Then the API and docs are served by one router", func() {
			convey.So(get("/v1/stats").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/v1/entities").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/openapi.yaml").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/api-docs").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then the stats feed the service gauges", func() {
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			v, ok := gaugeValue("tracker_collector_queue_capacity")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(v, convey.ShouldEqual, cfg.QueueSize)
		})
	})
}
