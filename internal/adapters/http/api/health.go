package api

import (
	"net/http"

	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider reports queue length, busy workers, pending requests and
// scheduler state.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// OpsHandler serves the operational endpoints: liveness and service stats.
type OpsHandler struct {
	metrics http.Handler
	stats   StatsProvider
}

// NewOpsHandler creates the handler behind /healthz and /v1/stats.
func NewOpsHandler(stats StatsProvider) *OpsHandler {
	return &OpsHandler{
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
		stats:   stats,
	}
}

// HandleHealth serves the Prometheus exposition of the process registry. A
// successful scrape doubles as the liveness signal.
func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// HandleStats handles GET /v1/stats.
func (h *OpsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}
