package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/pkg/api"
)

// SystemHandler reports process health. Status is always 200 with per-store
// booleans so a degraded deployment still answers; readiness gates only on
// the stores retrieval cannot run without.
type SystemHandler struct {
	reporter *lifecycle.StatusReporter
	logger   *zap.Logger
}

func NewSystemHandler(reporter *lifecycle.StatusReporter, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{reporter: reporter, logger: logger.Named("http.system")}
}

type systemStatusResponse struct {
	api.Envelope
	Ready            bool            `json:"ready"`
	Stores           map[string]bool `json:"stores"`
	MigrationVersion int64           `json:"migration_version"`
}

// Status handles GET /v1/system/status.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.reporter.Report(r.Context())
	respond(w, r, http.StatusOK, systemStatusResponse{
		Envelope:         envelope(r),
		Ready:            status.Ready,
		Stores:           status.Stores,
		MigrationVersion: status.MigrationVersion,
	})
}

// Ready handles GET /readyz. Unlike the status endpoint it gates: 503 until
// the registry and vector store answer and migrations have applied, so load
// balancers hold traffic during startup.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.reporter.Report(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	respond(w, r, code, systemStatusResponse{
		Envelope:         envelope(r),
		Ready:            status.Ready,
		Stores:           status.Stores,
		MigrationVersion: status.MigrationVersion,
	})
}

// Healthz handles GET /healthz: liveness only, no store probes.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
