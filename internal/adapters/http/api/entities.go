package api

import (
	"net/http"

	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

// EntitiesDependencies defines the interface for the tracked registry.
type EntitiesDependencies interface {
	Entities() []model.Entity
}

// EntitiesHandler handles entity listing requests.
type EntitiesHandler struct {
	deps EntitiesDependencies
}

// NewEntitiesHandler creates a new entities handler.
func NewEntitiesHandler(deps EntitiesDependencies) *EntitiesHandler {
	return &EntitiesHandler{deps: deps}
}

// HandleListEntities handles GET /v1/entities requests.
func (h *EntitiesHandler) HandleListEntities(w http.ResponseWriter, _ *http.Request) {
	entities := h.deps.Entities()
	if entities == nil {
		entities = []model.Entity{}
	}
	writeJSON(w, http.StatusOK, entities)
}
