package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

// CollectDependencies defines the interface for triggering collections.
type CollectDependencies interface {
	Enqueue(ctx context.Context, kind model.MetricKind, entityID string, origin model.Origin) (model.CollectionRequest, error)
	RunCollectionCycle(ctx context.Context, entityID string, kind model.MetricKind) (model.CollectionResult, error)
}

// CollectHandler handles manual collection triggers.
type CollectHandler struct {
	deps CollectDependencies
}

// NewCollectHandler creates a new collect handler.
func NewCollectHandler(deps CollectDependencies) *CollectHandler {
	return &CollectHandler{deps: deps}
}

type acceptedResponse struct {
	Status   string `json:"status"`
	RunID    string `json:"run_id"`
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
}

// HandleCollect handles POST /v1/collect/{kind}/{entity}.
// The request is queued and 202 returned; with ?wait=true the collection runs inline
// and the CollectionResult is returned.
func (h *CollectHandler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	const op = "api.collect"
	kind, entity, err := pathKind(r)
	if err != nil {
		writeServiceError(w, fmt.Errorf("%s: %w", op, err))
		return
	}

	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		if wait, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: wait=%q", op, ErrBadRequest, v))
			return
		}
	}

	if wait {
		res, err := h.deps.RunCollectionCycle(r.Context(), entity, kind)
		if err != nil {
			writeServiceError(w, fmt.Errorf("%s: %w", op, err))
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	req, err := h.deps.Enqueue(r.Context(), kind, entity, model.OriginManual)
	if err != nil {
		writeServiceError(w, fmt.Errorf("%s: %w", op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Status:   "accepted",
		RunID:    req.RunID.String(),
		Kind:     string(req.Kind),
		EntityID: req.EntityID,
	})
}
