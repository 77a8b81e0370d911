package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/pager"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// Feed reads add/remove events from a generic JSON event feed:
//
//	GET {base}/events?entity={id}&page={n}&per_page={m}
//	[{"actor": "alice", "action": "started", "occurred_at": "2024-01-01T08:00:00Z"}, ...]
//
// Accepted actions are "started" and "deleted". Records with a missing actor, an unknown
// action or an unparseable timestamp are skipped and counted.
type Feed struct {
	opts   options
	logger logger.Logger
}

// NewFeed creates an event feed source rooted at the configured base URL.
func NewFeed(opts ...Option) (*Feed, error) {
	o := buildOptions("feed", opts)
	if o.baseURL == "" {
		return nil, fmt.Errorf("event feed: base url is required")
	}
	o.baseURL = strings.TrimSuffix(o.baseURL, "/")
	return &Feed{opts: o, logger: o.logger}, nil
}

// Events returns a pager endpoint over the feed for one entity.
func (f *Feed) Events(entityID string) pager.Endpoint[model.RawEvent] {
	return pager.Endpoint[model.RawEvent]{
		Name: "feed.events",
		Fetch: func(ctx context.Context, c pager.Cursor) (pager.Page[model.RawEvent], error) {
			q := url.Values{}
			q.Set("entity", entityID)
			q.Set("page", strconv.Itoa(c.Page))
			q.Set("per_page", strconv.Itoa(f.opts.perPage))
			if c.Token != "" {
				q.Set("cursor", c.Token)
			}

			body, err := getJSON(ctx, f.opts.httpClient, f.opts.token, f.opts.baseURL+"/events?"+q.Encode())
			if err != nil {
				return pager.Page[model.RawEvent]{}, err
			}
			return parseEvents(entityID, body), nil
		},
	}
}

func parseEvents(entityID string, body []byte) pager.Page[model.RawEvent] {
	var page pager.Page[model.RawEvent]
	gjson.ParseBytes(body).ForEach(func(_, rec gjson.Result) bool {
		ev, ok := parseEvent(entityID, rec)
		if !ok {
			page.Skipped++
			return true
		}
		page.Records = append(page.Records, ev)
		return true
	})
	return page
}

func parseEvent(entityID string, rec gjson.Result) (model.RawEvent, bool) {
	if !rec.IsObject() {
		return model.RawEvent{}, false
	}
	actor := rec.Get("actor").String()
	if actor == "" {
		return model.RawEvent{}, false
	}
	var kind model.EventKind
	switch strings.ToLower(rec.Get("action").String()) {
	case "started":
		kind = model.Started
	case "deleted":
		kind = model.Deleted
	default:
		return model.RawEvent{}, false
	}
	at, err := time.Parse(time.RFC3339, rec.Get("occurred_at").String())
	if err != nil {
		return model.RawEvent{}, false
	}
	return model.RawEvent{EntityID: entityID, OccurredAt: at, Kind: kind, Actor: actor}, true
}
