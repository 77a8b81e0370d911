package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/Mihirgupta25/open-source-tracker/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should start empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording requests", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the request is new", func() {
				seen := d.SeenAndRecord(ctx, "stars/octo/widget")

				Convey("Then it should return false and record it", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the request is already pending", func() {
				d.SeenAndRecord(ctx, "stars/octo/widget")
				seen := d.SeenAndRecord(ctx, "stars/octo/widget")

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the same entity is pending for another kind", func() {
				d.SeenAndRecord(ctx, "stars/octo/widget")
				seen := d.SeenAndRecord(ctx, "pr_ratio/octo/widget")

				Convey("Then both are tracked independently", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 2)
				})
			})
		})

		Convey("When unrecording requests", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the request exists", func() {
				d.SeenAndRecord(ctx, "stars/octo/widget")
				d.Unrecord(ctx, "stars/octo/widget")

				Convey("Then it can be recorded again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "stars/octo/widget"), ShouldBeFalse)
				})
			})

			Convey("And the request doesn't exist", func() {
				d.Unrecord(ctx, "nonexistent")

				Convey("Then it should not affect the size", func() {
					So(d.Size(), ShouldEqual, 0)
				})
			})
		})

		Convey("When using bounded mode with eviction", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for _, id := range []string{"r-1", "r-2", "r-3"} {
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			}
			seen := d.SeenAndRecord(ctx, "r-4")

			Convey("Then the oldest id is evicted and the size stays bounded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "r-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			const n = 1000
			for i := 0; i < n; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("r-%d", i)), ShouldBeFalse)
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, int64(n))
				for i := 0; i < n; i++ {
					So(d.SeenAndRecord(ctx, fmt.Sprintf("r-%d", i)), ShouldBeTrue)
				}
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper with concurrent access", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const goroutines = 10
		const perGoroutine = 50

		Convey("When many goroutines race on the same ids", func() {
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				fresh int
			)
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perGoroutine; j++ {
						if !d.SeenAndRecord(context.Background(), fmt.Sprintf("r-%d", j)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id is newly recorded exactly once", func() {
				So(fresh, ShouldEqual, perGoroutine)
				So(d.Size(), ShouldEqual, int64(perGoroutine))
			})
		})
	})
}
