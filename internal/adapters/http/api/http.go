// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/repository"
	service "github.com/Mihirgupta25/open-source-tracker/internal/app"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CollectDependencies
	TimelineDependencies
	EntitiesDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	opsHandler      *OpsHandler
	collectHandler  *CollectHandler
	timelineHandler *TimelineHandler
	entitiesHandler *EntitiesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		opsHandler:      NewOpsHandler(statsProvider),
		collectHandler:  NewCollectHandler(deps),
		timelineHandler: NewTimelineHandler(deps),
		entitiesHandler: NewEntitiesHandler(deps),
	}
}

// Register attaches all HTTP routes to router. Entity ids may contain slashes
// ("owner/name"), so the entity segment matches the rest of the path.
func (s *Server) Register(_ context.Context, router *mux.Router) {
	router.Use(Metrics)
	router.HandleFunc("/healthz", s.opsHandler.HandleHealth).Methods(http.MethodGet).Name("healthz")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/stats", s.opsHandler.HandleStats).Methods(http.MethodGet).Name("stats")
	v1.HandleFunc("/entities", s.entitiesHandler.HandleListEntities).Methods(http.MethodGet).Name("entities")
	v1.HandleFunc("/timeline/{kind}/{entity:.+}", s.timelineHandler.HandleGetTimeline).Methods(http.MethodGet).Name("timeline")
	v1.HandleFunc("/collect/{kind}/{entity:.+}", s.collectHandler.HandleCollect).Methods(http.MethodPost).Name("collect")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates service and domain errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUnknownKind), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, model.ErrUnknownEntity), errors.Is(err, service.ErrKindNotTracked):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrAlreadyPending):
		writeError(w, http.StatusConflict, "already_pending", err)
	case errors.Is(err, service.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, repository.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// pathKind reads and validates the {kind} route variable.
func pathKind(r *http.Request) (model.MetricKind, string, error) {
	vars := mux.Vars(r)
	kind, err := model.ParseKind(vars["kind"])
	if err != nil {
		return "", "", err
	}
	return kind, vars["entity"], nil
}
