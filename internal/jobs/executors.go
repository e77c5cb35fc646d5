package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/graphrag"
	"github.com/llcontext/llcd/internal/ingest"
	"github.com/llcontext/llcd/internal/lifecycle"
	"github.com/llcontext/llcd/internal/repository"
)

// NewIngestExecutor adapts the ingest pipeline to the worker pool.
func NewIngestExecutor(pipeline *ingest.Pipeline) Executor {
	return ExecutorFunc(func(ctx context.Context, job *domain.Job, beat Heartbeat) (map[string]any, error) {
		res, err := pipeline.Run(ctx, job, ingest.Heartbeat(beat))
		if err != nil {
			return nil, err
		}
		return resultMap(res)
	})
}

// NewGraphExtractExecutor loads a document's chunks and runs the graph
// builder over them.
func NewGraphExtractExecutor(builder *graphrag.Builder, chunks repository.ChunkRepository) Executor {
	return ExecutorFunc(func(ctx context.Context, job *domain.Job, beat Heartbeat) (map[string]any, error) {
		if job.ContainerID == nil {
			return nil, apperr.Validation(string(domain.IssueContainerNotFound), "graph job has no container")
		}
		raw, _ := job.Payload["document_id"].(string)
		docID, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperr.Validation("GRAPH_JOB_INVALID", "graph job has no document id")
		}
		rows, err := chunks.ListByDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		refs := make([]*domain.Chunk, len(rows))
		for i := range rows {
			refs[i] = &rows[i]
		}
		res, err := builder.BuildFromChunks(ctx, *job.ContainerID, refs)
		if err != nil {
			return nil, err
		}
		if beat != nil {
			if err := beat(ctx); err != nil {
				return nil, err
			}
		}
		return resultMap(res)
	})
}

// NewRefreshExecutor runs shadow embedder refreshes.
func NewRefreshExecutor(svc *lifecycle.Service) Executor {
	return ExecutorFunc(func(ctx context.Context, job *domain.Job, beat Heartbeat) (map[string]any, error) {
		return svc.RunRefresh(ctx, job, beat)
	})
}

// NewExportExecutor runs container export packaging.
func NewExportExecutor(svc *lifecycle.Service) Executor {
	return ExecutorFunc(func(ctx context.Context, job *domain.Job, beat Heartbeat) (map[string]any, error) {
		return svc.RunExport(ctx, job, beat)
	})
}

// resultMap flattens a typed result into the job's JSON result column.
func resultMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Internal("encode job result", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperr.Internal("encode job result", err)
	}
	return out, nil
}
