package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/documents"
	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/pkg/api"
)

// DocumentHandler fronts document reads and the delete cascade.
type DocumentHandler struct {
	svc        *documents.Service
	containers *lifecycle.Service
	logger     *zap.Logger
}

func NewDocumentHandler(svc *documents.Service, containers *lifecycle.Service, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{svc: svc, containers: containers, logger: logger.Named("http.documents")}
}

type documentListResponse struct {
	api.Envelope
	Documents []api.Document `json:"documents"`
}

type documentResponse struct {
	api.Envelope
	Document api.Document `json:"document"`
	Chunks   []api.Chunk  `json:"chunks,omitempty"`
}

// List handles GET /v1/documents?container=<ref>&state=&limit=&offset=.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("container")
	if ref == "" {
		fail(w, r, apperr.Validation("NO_CONTAINER", "container query parameter is required"))
		return
	}
	c, err := h.containers.Describe(r.Context(), ref)
	if err != nil {
		fail(w, r, err)
		return
	}
	filter := repository.DocumentFilter{ContainerID: c.ID}
	for _, s := range strings.Split(q.Get("state"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter.States = append(filter.States, domain.DocumentState(s))
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	docs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := documentListResponse{Envelope: envelope(r)}
	out.Documents = make([]api.Document, len(docs))
	for i, d := range docs {
		out.Documents[i] = api.FromDocument(d)
	}
	respond(w, r, http.StatusOK, out)
}

// Get handles GET /v1/documents/{id}, returning the document with chunks.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, apperr.Validation("BAD_DOCUMENT_ID", "document id must be a uuid"))
		return
	}
	doc, chunks, err := h.svc.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := documentResponse{Envelope: envelope(r), Document: api.FromDocument(doc)}
	for i := range chunks {
		out.Chunks = append(out.Chunks, api.FromChunk(&chunks[i]))
	}
	respond(w, r, http.StatusOK, out)
}

// Delete handles DELETE /v1/documents/{id}, cascading to vector, graph, and
// blob stores.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, apperr.Validation("BAD_DOCUMENT_ID", "document id must be a uuid"))
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, envelope(r))
}
