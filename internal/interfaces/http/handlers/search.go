package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/middleware"
	"github.com/llcontext/llcd/internal/search"
	"github.com/llcontext/llcd/pkg/api"
)

// SearchHandler fronts the retrieval pipeline.
type SearchHandler struct {
	svc    *search.Service
	logger *zap.Logger
}

func NewSearchHandler(svc *search.Service, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{svc: svc, logger: logger.Named("http.search")}
}

// Search handles POST /v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var body api.SearchRequest
	if err := api.Decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	if len(body.Containers) == 0 {
		fail(w, r, apperr.Validation("NO_CONTAINERS", "at least one container is required"))
		return
	}
	mode := domain.SearchMode(body.Mode)
	if body.Mode == "" {
		mode = domain.ModeHybrid
	}

	req := &search.Request{
		Query:         body.Query,
		QueryImage:    body.QueryImage,
		ContainerRefs: body.Containers,
		Mode:          mode,
		K:             body.K,
		BudgetMS:      body.BudgetMS,
		Rerank:        body.Rerank,
		Diagnostics:   body.Diagnostics,
		GraphQuery:    body.GraphQuery,
		Principal:     middleware.Principal(r.Context()),
	}
	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}

	out := api.SearchResponse{
		Envelope:     envelope(r),
		Partial:      resp.Partial,
		Query:        body.Query,
		Results:      resp.Results,
		GraphContext: resp.GraphContext,
		TotalHits:    len(resp.Results),
		Returned:     len(resp.Results),
	}
	for _, issue := range resp.Issues {
		out.Issues = append(out.Issues, string(issue))
	}
	if resp.Diag != nil {
		out.Diagnostics = resp.Diag
		out.TimingsMS = map[string]int64{
			"bm25":   resp.Diag.BM25MS,
			"vector": resp.Diag.VectorMS,
			"graph":  resp.Diag.GraphMS,
			"rerank": resp.Diag.RerankMS,
			"fuse":   resp.Diag.FuseMS,
			"total":  resp.Diag.TotalMS,
		}
	}
	if resp.Partial {
		h.logger.Info("degraded search", append(logFields(r),
			zap.Strings("issues", out.Issues))...)
	}
	respond(w, r, http.StatusOK, out)
}
