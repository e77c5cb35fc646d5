package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/ingest"
	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/internal/middleware"
	"github.com/llcontext/llcd/internal/policy"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/pkg/api"
)

const (
	defaultBlockingWait = 30 * time.Second
	maxBlockingWait     = 5 * time.Minute
	blockingPoll        = 200 * time.Millisecond
)

// ContainerHandler fronts the lifecycle service and source ingestion
// enqueueing.
type ContainerHandler struct {
	svc      *lifecycle.Service
	queue    repository.JobQueue
	policies ingest.PolicyResolver
	logger   *zap.Logger
}

func NewContainerHandler(svc *lifecycle.Service, queue repository.JobQueue, policies ingest.PolicyResolver, logger *zap.Logger) *ContainerHandler {
	return &ContainerHandler{svc: svc, queue: queue, policies: policies, logger: logger.Named("http.containers")}
}

type containerResponse struct {
	api.Envelope
	Container api.Container `json:"container"`
}

type containerListResponse struct {
	api.Envelope
	Containers []api.Container `json:"containers"`
}

type jobAcceptedResponse struct {
	api.Envelope
	JobID string `json:"job_id"`
}

// Create handles POST /v1/containers. The body is a manifest.
func (h *ContainerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var m policy.Manifest
	if err := api.Decode(r, &m); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.svc.Create(r.Context(), &m, middleware.AgentID(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, containerResponse{
		Envelope:  envelope(r),
		Container: api.FromContainer(c, false),
	})
}

// List handles GET /v1/containers with state, search, parent, and
// include_stats filters.
func (h *ContainerHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ContainerFilter{Search: q.Get("search")}
	for _, s := range strings.Split(q.Get("state"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter.States = append(filter.States, domain.ContainerState(s))
		}
	}
	if parent := q.Get("parent"); parent != "" {
		id, err := uuid.Parse(parent)
		if err != nil {
			fail(w, r, apperr.Validation("BAD_PARENT", "parent must be a container id"))
			return
		}
		filter.ParentID = &id
	}
	withStats := q.Get("include_stats") == "true"

	containers, err := h.svc.List(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := containerListResponse{Envelope: envelope(r)}
	out.Containers = make([]api.Container, len(containers))
	for i, c := range containers {
		out.Containers[i] = api.FromContainer(c, withStats)
	}
	respond(w, r, http.StatusOK, out)
}

// Describe handles GET /v1/containers/{ref}.
func (h *ContainerHandler) Describe(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Describe(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, containerResponse{
		Envelope:  envelope(r),
		Container: api.FromContainer(c, true),
	})
}

// Update handles PATCH /v1/containers/{ref}.
func (h *ContainerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var body api.UpdateContainerRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	req := lifecycle.UpdateRequest{
		Theme:       body.Theme,
		Description: body.Description,
		BudgetMS:    body.BudgetMS,
		Readers:     body.Readers,
		Owners:      body.Owners,
		GraphSchema: body.GraphSchema,
		Policy:      body.Policy,
	}
	if body.State != nil {
		state := domain.ContainerState(*body.State)
		req.State = &state
	}
	c, err := h.svc.Update(r.Context(), chi.URLParam(r, "ref"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, containerResponse{
		Envelope:  envelope(r),
		Container: api.FromContainer(c, false),
	})
}

// Delete handles DELETE /v1/containers/{ref}; ?hard=true cascades.
func (h *ContainerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard") == "true"
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "ref"), hard); err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, envelope(r))
}

// Refresh handles POST /v1/containers/{ref}/refresh.
func (h *ContainerHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body api.RefreshRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	jobID, err := h.svc.Refresh(r.Context(), chi.URLParam(r, "ref"), body.Embedder, body.Version, body.Dims)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusAccepted, jobAcceptedResponse{
		Envelope: envelope(r),
		JobID:    jobID.String(),
	})
}

// Export handles POST /v1/containers/{ref}/export.
func (h *ContainerHandler) Export(w http.ResponseWriter, r *http.Request) {
	var body api.ExportRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	jobID, err := h.svc.Export(r.Context(), chi.URLParam(r, "ref"), body.IncludeBlobs)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusAccepted, jobAcceptedResponse{
		Envelope: envelope(r),
		JobID:    jobID.String(),
	})
}

// AddSources handles POST /v1/containers/{ref}/sources: per-source policy
// gating, then one ingest job per source. Blocking mode waits for terminal
// states up to the requested timeout.
func (h *ContainerHandler) AddSources(w http.ResponseWriter, r *http.Request) {
	var body api.AddSourcesRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	if len(body.Sources) == 0 {
		fail(w, r, apperr.Validation("NO_SOURCES", "at least one source is required"))
		return
	}
	c, err := h.svc.Describe(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if c.State != domain.ContainerActive {
		fail(w, r, apperr.Conflict(string(domain.IssueContainerUnavailable), "container is not active"))
		return
	}
	pol, err := h.policies.Resolve(r.Context(), c.ID.String())
	if err != nil {
		fail(w, r, err)
		return
	}

	jobIDs := make([]uuid.UUID, 0, len(body.Sources))
	for _, src := range body.Sources {
		modality := ingest.DetectModality(src)
		if !pol.AllowsModality(modality) {
			fail(w, r, apperr.Validation(string(domain.IssueModalityBlocked),
				"modality "+string(modality)+" is not allowed by the container policy"))
			return
		}
		if text, ok := src.Meta["text"].(string); ok && pol.MaxSizeBytes > 0 && int64(len(text)) > pol.MaxSizeBytes {
			fail(w, r, apperr.Validation(string(domain.IssuePayloadTooLarge),
				"inline source exceeds the container size limit"))
			return
		}
		jobID, err := h.queue.Enqueue(r.Context(), domain.JobIngest, &c.ID,
			map[string]any{"source": src}, "")
		if err != nil {
			fail(w, r, err)
			return
		}
		jobIDs = append(jobIDs, jobID)
	}

	if body.Mode == "blocking" {
		wait := defaultBlockingWait
		if body.TimeoutMS > 0 {
			wait = time.Duration(body.TimeoutMS) * time.Millisecond
		}
		if wait > maxBlockingWait {
			wait = maxBlockingWait
		}
		h.awaitJobs(r, jobIDs, wait)
	}

	jobs, err := h.queue.GetByIDs(r.Context(), jobIDs)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := api.AddSourcesResponse{Envelope: envelope(r)}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, api.FromJob(j))
	}
	respond(w, r, http.StatusAccepted, out)
}

func (h *ContainerHandler) awaitJobs(r *http.Request, ids []uuid.UUID, wait time.Duration) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		jobs, err := h.queue.GetByIDs(r.Context(), ids)
		if err != nil {
			return
		}
		done := 0
		for _, j := range jobs {
			if j.State.Terminal() {
				done++
			}
		}
		if done == len(ids) {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(blockingPoll):
		}
	}
	h.logger.Debug("blocking ingest wait expired", logFields(r)...)
}

type linkResponse struct {
	api.Envelope
	Link api.Link `json:"link"`
}

type linkListResponse struct {
	api.Envelope
	Links []api.Link `json:"links"`
}

// AddLink handles POST /v1/containers/{ref}/links.
func (h *ContainerHandler) AddLink(w http.ResponseWriter, r *http.Request) {
	var body api.LinkRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	if body.Target == "" || body.Kind == "" {
		fail(w, r, apperr.Validation("BAD_LINK", "target and kind are required"))
		return
	}
	link, err := h.svc.AddLink(r.Context(), chi.URLParam(r, "ref"), body.Target, body.Kind,
		middleware.AgentID(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, linkResponse{
		Envelope: envelope(r),
		Link:     api.FromLink(link),
	})
}

// Links handles GET /v1/containers/{ref}/links.
func (h *ContainerHandler) Links(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.Links(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := linkListResponse{Envelope: envelope(r)}
	for i := range links {
		out.Links = append(out.Links, api.FromLink(&links[i]))
	}
	respond(w, r, http.StatusOK, out)
}

type subscriptionResponse struct {
	api.Envelope
	Subscription api.Subscription `json:"subscription"`
}

type subscriptionListResponse struct {
	api.Envelope
	Subscriptions []api.Subscription `json:"subscriptions"`
}

// Subscribe handles POST /v1/containers/{ref}/subscriptions.
func (h *ContainerHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var body api.SubscribeRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	agentID := body.AgentID
	if agentID == "" {
		agentID = middleware.AgentID(r.Context())
	}
	if agentID == "" {
		fail(w, r, apperr.Validation("NO_AGENT", "agent_id or X-Agent-ID is required"))
		return
	}
	sub, err := h.svc.Subscribe(r.Context(), chi.URLParam(r, "ref"), agentID, body.AgentName)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, subscriptionResponse{
		Envelope:     envelope(r),
		Subscription: api.FromSubscription(sub),
	})
}

// Subscriptions handles GET /v1/containers/{ref}/subscriptions.
func (h *ContainerHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.Subscriptions(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := subscriptionListResponse{Envelope: envelope(r)}
	for i := range subs {
		out.Subscriptions = append(out.Subscriptions, api.FromSubscription(&subs[i]))
	}
	respond(w, r, http.StatusOK, out)
}
