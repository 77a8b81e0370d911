package model_test

import (
	"testing"
	"time"

	model "github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEventKind(t *testing.T) {
	convey.Convey("Given event kinds", t, func() {
		convey.Convey("Started adds one and Deleted removes one", func() {
			convey.So(model.Started.Delta(), convey.ShouldEqual, 1)
			convey.So(model.Deleted.Delta(), convey.ShouldEqual, -1)
			convey.So(model.EventKind(0).Delta(), convey.ShouldEqual, 0)
		})

		convey.Convey("They render as lower-case names", func() {
			convey.So(model.Started.String(), convey.ShouldEqual, "started")
			convey.So(model.Deleted.String(), convey.ShouldEqual, "deleted")
			convey.So(model.EventKind(9).String(), convey.ShouldEqual, "unknown")
		})
	})
}

func TestParseKind(t *testing.T) {
	convey.Convey("Given user supplied kind names", t, func() {
		k, err := model.ParseKind(" Stars ")
		convey.So(err, convey.ShouldBeNil)
		convey.So(k, convey.ShouldEqual, model.KindStars)

		_, err = model.ParseKind("forks")
		convey.So(err, convey.ShouldWrap, model.ErrUnknownKind)
	})
}

func TestSeriesKey(t *testing.T) {
	convey.Convey("Given a sample", t, func() {
		s := model.MetricSample{Kind: model.KindPRRatio, EntityID: "octo/widget", Period: "2024-01-01"}

		convey.Convey("Its key renders as kind/entity", func() {
			convey.So(s.Key().String(), convey.ShouldEqual, "pr_ratio/octo/widget")
		})
	})
}

func TestRatioSampleMetricSample(t *testing.T) {
	convey.Convey("Given a ratio sample", t, func() {
		r := model.RatioSample{EntityID: "octo/widget", Period: "2024-01-01", Numerator: 3, Denominator: 4, Ratio: 0.75}
		s := r.MetricSample(model.KindIssueRatio)

		convey.Convey("The ratio is the value and the denominator the secondary value", func() {
			convey.So(s.Value, convey.ShouldEqual, 0.75)
			convey.So(*s.SecondaryValue, convey.ShouldEqual, 4.0)
			convey.So(s.Kind, convey.ShouldEqual, model.KindIssueRatio)
		})
	})
}

func TestCollectionRequest(t *testing.T) {
	convey.Convey("Given two requests for the same series", t, func() {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		a := model.NewCollectionRequest(model.KindStars, "octo/widget", model.OriginManual, now)
		b := model.NewCollectionRequest(model.KindStars, "octo/widget", model.OriginScheduler, now)

		convey.So(a.RunID, convey.ShouldNotEqual, b.RunID)
		convey.So(a.Key(), convey.ShouldResemble, b.Key())
	})
}

func TestCollectionResultErr(t *testing.T) {
	convey.Convey("Given a collection result", t, func() {
		var r model.CollectionResult
		convey.So(r.Err(), convey.ShouldBeNil)

		r.AddError(nil)
		convey.So(r.Errors, convey.ShouldBeEmpty)

		r.AddError(errFake("first"))
		r.AddError(errFake("second"))
		err := r.Err()
		convey.So(err, convey.ShouldNotBeNil)
		convey.So(err.Error(), convey.ShouldContainSubstring, "first")
		convey.So(err.Error(), convey.ShouldContainSubstring, "second")
	})
}

func TestEntity(t *testing.T) {
	convey.Convey("Given tracked entities", t, func() {
		convey.Convey("An entity without kinds tracks what it has sources for", func() {
			e := model.Entity{ID: "widget", Repo: "octo/widget"}
			convey.So(e.TrackedKinds(), convey.ShouldResemble,
				[]model.MetricKind{model.KindStars, model.KindPRRatio, model.KindIssueRatio})

			e.Package = "widget"
			convey.So(e.Tracks(model.KindDownloads), convey.ShouldBeTrue)
		})

		convey.Convey("An explicit kind list wins", func() {
			e := model.Entity{ID: "widget", Repo: "octo/widget", Kinds: []model.MetricKind{model.KindStars}}
			convey.So(e.Tracks(model.KindStars), convey.ShouldBeTrue)
			convey.So(e.Tracks(model.KindPRRatio), convey.ShouldBeFalse)
		})

		convey.Convey("Ad-hoc entities reuse the id", func() {
			e := model.AdHocEntity("left-pad")
			convey.So(e.Repo, convey.ShouldEqual, "left-pad")
			convey.So(e.Package, convey.ShouldEqual, "left-pad")
		})
	})
}

type errFake string

func (e errFake) Error() string { return string(e) }
