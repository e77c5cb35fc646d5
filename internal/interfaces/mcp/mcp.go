// Package mcp exposes the core services as MCP tools. The adapter stays
// thin: decode tool input, call the same services the REST handlers use,
// return JSON text content.
package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/search"
	"github.com/llcontext/llcd/pkg/api"
)

// Server wraps the MCP server with the service handles the tools call.
type Server struct {
	impl    *mcp.Server
	search  *search.Service
	life    *lifecycle.Service
	queue   repository.JobQueue
	logger  *zap.Logger
	version string
}

func NewServer(searchSvc *search.Service, life *lifecycle.Service, queue repository.JobQueue, version string, logger *zap.Logger) *Server {
	s := &Server{
		search:  searchSvc,
		life:    life,
		queue:   queue,
		logger:  logger.Named("mcp"),
		version: version,
	}
	s.impl = mcp.NewServer(&mcp.Implementation{
		Name:    "llcd",
		Version: version,
	}, nil)
	s.register()
	return s
}

// Run serves the MCP protocol over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	return s.impl.Run(ctx, &mcp.StdioTransport{})
}

type searchArgs struct {
	Query      string   `json:"query,omitempty" jsonschema:"the search query text"`
	Containers []string `json:"containers" jsonschema:"container slugs or ids to search"`
	Mode       string   `json:"mode,omitempty" jsonschema:"semantic, bm25, hybrid, graph, or hybrid_graph"`
	K          int      `json:"k,omitempty" jsonschema:"number of results, max 50"`
	GraphQuery string   `json:"graph_query,omitempty" jsonschema:"natural-language graph question"`
}

type listContainersArgs struct {
	State  string `json:"state,omitempty" jsonschema:"filter by container state"`
	Search string `json:"search,omitempty" jsonschema:"substring match on slug or theme"`
}

type describeContainerArgs struct {
	Container string `json:"container" jsonschema:"container slug or id"`
}

type addSourcesArgs struct {
	Container string                `json:"container" jsonschema:"container slug or id"`
	Sources   []domain.IngestSource `json:"sources" jsonschema:"sources to ingest"`
}

type jobStatusArgs struct {
	JobIDs []string `json:"job_ids" jsonschema:"job ids to look up"`
}

func (s *Server) register() {
	mcp.AddTool(s.impl, &mcp.Tool{
		Name:        "search",
		Description: "Search one or more containers and return ranked chunks with provenance.",
	}, s.handleSearch)
	mcp.AddTool(s.impl, &mcp.Tool{
		Name:        "list_containers",
		Description: "List containers with their themes and states.",
	}, s.handleListContainers)
	mcp.AddTool(s.impl, &mcp.Tool{
		Name:        "describe_container",
		Description: "Describe one container, stats included.",
	}, s.handleDescribeContainer)
	mcp.AddTool(s.impl, &mcp.Tool{
		Name:        "add_sources",
		Description: "Enqueue source ingestion into a container and return the job ids.",
	}, s.handleAddSources)
	mcp.AddTool(s.impl, &mcp.Tool{
		Name:        "job_status",
		Description: "Report the status of previously enqueued jobs.",
	}, s.handleJobStatus)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, args searchArgs) (*mcp.CallToolResult, any, error) {
	mode := domain.SearchMode(args.Mode)
	if args.Mode == "" {
		mode = domain.ModeHybrid
	}
	resp, err := s.search.Search(ctx, &search.Request{
		Query:         args.Query,
		ContainerRefs: args.Containers,
		Mode:          mode,
		K:             args.K,
		GraphQuery:    args.GraphQuery,
	})
	if err != nil {
		return toolError(err), nil, nil
	}
	return toolJSON(resp)
}

func (s *Server) handleListContainers(ctx context.Context, _ *mcp.CallToolRequest, args listContainersArgs) (*mcp.CallToolResult, any, error) {
	filter := repository.ContainerFilter{Search: args.Search}
	if args.State != "" {
		filter.States = []domain.ContainerState{domain.ContainerState(args.State)}
	}
	containers, err := s.life.List(ctx, filter)
	if err != nil {
		return toolError(err), nil, nil
	}
	out := make([]api.Container, len(containers))
	for i, c := range containers {
		out[i] = api.FromContainer(c, true)
	}
	return toolJSON(out)
}

func (s *Server) handleDescribeContainer(ctx context.Context, _ *mcp.CallToolRequest, args describeContainerArgs) (*mcp.CallToolResult, any, error) {
	c, err := s.life.Describe(ctx, args.Container)
	if err != nil {
		return toolError(err), nil, nil
	}
	return toolJSON(api.FromContainer(c, true))
}

func (s *Server) handleAddSources(ctx context.Context, _ *mcp.CallToolRequest, args addSourcesArgs) (*mcp.CallToolResult, any, error) {
	if len(args.Sources) == 0 {
		return toolError(apperr.Validation("NO_SOURCES", "at least one source is required")), nil, nil
	}
	c, err := s.life.Describe(ctx, args.Container)
	if err != nil {
		return toolError(err), nil, nil
	}
	jobIDs := make([]string, 0, len(args.Sources))
	for _, src := range args.Sources {
		jobID, err := s.queue.Enqueue(ctx, domain.JobIngest, &c.ID, map[string]any{"source": src}, "")
		if err != nil {
			return toolError(err), nil, nil
		}
		jobIDs = append(jobIDs, jobID.String())
	}
	return toolJSON(map[string]any{"job_ids": jobIDs, "enqueued_at": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleJobStatus(ctx context.Context, _ *mcp.CallToolRequest, args jobStatusArgs) (*mcp.CallToolResult, any, error) {
	var ids []uuid.UUID
	for _, raw := range args.JobIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return toolError(apperr.Validation("BAD_JOB_ID", "job ids must be uuids")), nil, nil
		}
		ids = append(ids, id)
	}
	jobs, err := s.queue.GetByIDs(ctx, ids)
	if err != nil {
		return toolError(err), nil, nil
	}
	out := make([]api.JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = api.FromJob(j)
	}
	return toolJSON(out)
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(apperr.Internal("encode tool result", err)), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func toolError(err error) *mcp.CallToolResult {
	appErr := apperr.AsError(err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: appErr.Code + ": " + appErr.Message}},
	}
}
