package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/pager"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

const (
	defaultNPMBaseURL = "https://api.npmjs.org"
	npmDayLayout      = "2006-01-02"
	// The registry rejects ranges longer than 18 months; one year per page stays clear.
	npmWindowDays = 365
)

// DailyCount is one day of package downloads.
type DailyCount struct {
	Day   time.Time
	Count int64
}

// NPM reads package download counts from the npm downloads API.
type NPM struct {
	opts   options
	logger logger.Logger
}

// NewNPM creates an npm downloads source.
func NewNPM(opts ...Option) *NPM {
	o := buildOptions("npm", opts)
	if o.baseURL == "" {
		o.baseURL = defaultNPMBaseURL
	}
	o.baseURL = strings.TrimSuffix(o.baseURL, "/")
	return &NPM{opts: o, logger: o.logger}
}

// Downloads returns a pager endpoint over daily downloads of pkg between from and to
// (inclusive, UTC days). Page n covers the n-th one-year window of the range.
func (n *NPM) Downloads(pkg string, from, to time.Time) pager.Endpoint[DailyCount] {
	from = utcDay(from)
	to = utcDay(to)
	return pager.Endpoint[DailyCount]{
		Name: "npm.downloads",
		Fetch: func(ctx context.Context, c pager.Cursor) (pager.Page[DailyCount], error) {
			if strings.TrimSpace(pkg) == "" {
				return pager.Page[DailyCount]{}, fmt.Errorf("npm downloads: %w: %w", pager.ErrPermanent, ErrNoPackage)
			}
			start := from.AddDate(0, 0, (c.Page-1)*npmWindowDays)
			if start.After(to) {
				return pager.Page[DailyCount]{}, nil
			}
			end := start.AddDate(0, 0, npmWindowDays-1)
			if end.After(to) {
				end = to
			}

			u := fmt.Sprintf("%s/downloads/range/%s:%s/%s", n.opts.baseURL,
				start.Format(npmDayLayout), end.Format(npmDayLayout), url.PathEscape(pkg))
			body, err := getJSON(ctx, n.opts.httpClient, n.opts.token, u)
			if err != nil {
				return pager.Page[DailyCount]{}, err
			}

			page := parseDownloads(body)
			page.Last = !end.Before(to)
			if page.Skipped > 0 {
				n.logger.Debug(ctx, "skipped malformed download rows",
					logger.String("package", pkg),
					logger.Int("skipped", page.Skipped),
				)
			}
			return page, nil
		},
	}
}

func parseDownloads(body []byte) pager.Page[DailyCount] {
	var page pager.Page[DailyCount]
	gjson.GetBytes(body, "downloads").ForEach(func(_, row gjson.Result) bool {
		day, err := time.Parse(npmDayLayout, row.Get("day").String())
		count := row.Get("downloads")
		if err != nil || count.Type != gjson.Number {
			page.Skipped++
			return true
		}
		page.Records = append(page.Records, DailyCount{Day: day, Count: count.Int()})
		return true
	})
	return page
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
