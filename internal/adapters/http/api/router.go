package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
)

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter builds a router with the server's routes and JSON answers for
// unknown paths and wrong methods.
func NewRouter(ctx context.Context, s *Server) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
	s.Register(ctx, router)
	return router
}
