package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/pkg/api"
)

// JobHandler exposes job status and the audit trail.
type JobHandler struct {
	queue  repository.JobQueue
	logger *zap.Logger
}

func NewJobHandler(queue repository.JobQueue, logger *zap.Logger) *JobHandler {
	return &JobHandler{queue: queue, logger: logger.Named("http.jobs")}
}

type jobListResponse struct {
	api.Envelope
	Jobs []api.JobStatus `json:"jobs"`
}

type jobEventsResponse struct {
	api.Envelope
	Events []api.JobEvent `json:"events"`
}

// Status handles GET /v1/jobs?ids=a,b,c.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		fail(w, r, apperr.Validation("NO_JOB_IDS", "ids query parameter is required"))
		return
	}
	var ids []uuid.UUID
	for _, s := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			fail(w, r, apperr.Validation("BAD_JOB_ID", "job ids must be uuids"))
			return
		}
		ids = append(ids, id)
	}
	jobs, err := h.queue.GetByIDs(r.Context(), ids)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := jobListResponse{Envelope: envelope(r)}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, api.FromJob(j))
	}
	respond(w, r, http.StatusOK, out)
}

// Events handles GET /v1/jobs/{id}/events.
func (h *JobHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, apperr.Validation("BAD_JOB_ID", "job id must be a uuid"))
		return
	}
	events, err := h.queue.Events(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := jobEventsResponse{Envelope: envelope(r)}
	for i := range events {
		out.Events = append(out.Events, api.FromJobEvent(&events[i]))
	}
	respond(w, r, http.StatusOK, out)
}
