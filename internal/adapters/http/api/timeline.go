package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/repository"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

// TimelineDependencies defines the interface for timeline reads.
type TimelineDependencies interface {
	GetTimeline(ctx context.Context, entityID string, kind model.MetricKind, r repository.Range) ([]model.MetricSample, error)
}

// TimelineHandler handles timeline requests.
type TimelineHandler struct {
	deps TimelineDependencies
}

// NewTimelineHandler creates a new timeline handler.
func NewTimelineHandler(deps TimelineDependencies) *TimelineHandler {
	return &TimelineHandler{deps: deps}
}

type timelinePoint struct {
	Period         string   `json:"period"`
	Value          float64  `json:"value"`
	SecondaryValue *float64 `json:"secondary_value,omitempty"`
}

type timelineResponse struct {
	Kind     string          `json:"kind"`
	EntityID string          `json:"entity_id"`
	Points   []timelinePoint `json:"points"`
}

// HandleGetTimeline handles GET /v1/timeline/{kind}/{entity}?from=&to= requests.
// from and to are inclusive period labels.
func (h *TimelineHandler) HandleGetTimeline(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_timeline"
	kind, entity, err := pathKind(r)
	if err != nil {
		writeServiceError(w, fmt.Errorf("%s: %w", op, err))
		return
	}

	q := r.URL.Query()
	rng := repository.Range{From: q.Get("from"), To: q.Get("to")}
	if rng.From != "" && rng.To != "" && rng.From > rng.To {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: from %q is after to %q", op, ErrBadRange, rng.From, rng.To))
		return
	}

	rows, err := h.deps.GetTimeline(r.Context(), entity, kind, rng)
	if err != nil {
		writeServiceError(w, fmt.Errorf("%s: %w", op, err))
		return
	}

	resp := timelineResponse{Kind: string(kind), EntityID: entity, Points: make([]timelinePoint, 0, len(rows))}
	for _, row := range rows {
		resp.Points = append(resp.Points, timelinePoint{
			Period:         row.Period,
			Value:          row.Value,
			SecondaryValue: row.SecondaryValue,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
