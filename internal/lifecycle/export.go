package lifecycle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/repository"
	"github.com/llcontext/llcd/internal/store/blob"
)

const exportPage = 100

// RunExport packages a container's manifest, documents, and chunks (plus
// optionally the original blobs) into a tar archive in the blob store and
// returns the artifact reference.
func (s *Service) RunExport(ctx context.Context, job *domain.Job, beat func(context.Context) error) (map[string]any, error) {
	if job.ContainerID == nil {
		return nil, apperr.Validation(string(domain.IssueContainerNotFound), "export job has no container")
	}
	cid := *job.ContainerID
	c, err := s.containers.GetByID(ctx, cid)
	if err != nil {
		return nil, err
	}
	includeBlobs, _ := job.Payload["include_blobs"].(bool)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now().UTC()

	manifest, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, apperr.Internal("encode container manifest", err)
	}
	if err := addFile(tw, "manifest.json", manifest, now); err != nil {
		return nil, err
	}

	var docLines, chunkLines bytes.Buffer
	docs := 0
	chunks := 0
	offset := 0
	for {
		page, err := s.docs.List(ctx, repository.DocumentFilter{
			ContainerID: cid,
			States:      []domain.DocumentState{domain.DocumentActive},
			Limit:       exportPage,
			Offset:      offset,
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		for _, doc := range page {
			if err := writeLine(&docLines, doc); err != nil {
				return nil, err
			}
			docs++

			rows, err := s.chunks.ListByDocument(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			for i := range rows {
				if err := writeLine(&chunkLines, rows[i]); err != nil {
					return nil, err
				}
				chunks++
			}

			if includeBlobs {
				raw, err := s.blobs.Get(ctx, blob.DocumentKey(cid, doc.ID))
				if err == nil {
					if err := addFile(tw, "blobs/"+doc.ID.String(), raw, now); err != nil {
						return nil, err
					}
				}
			}
		}
		if beat != nil {
			if err := beat(ctx); err != nil {
				return nil, err
			}
		}
	}

	if err := addFile(tw, "documents.jsonl", docLines.Bytes(), now); err != nil {
		return nil, err
	}
	if err := addFile(tw, "chunks.jsonl", chunkLines.Bytes(), now); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, apperr.Internal("finalize export archive", err)
	}

	artifact := uuid.New()
	key := "exports/" + artifact.String() + ".tar"
	if err := s.blobs.Put(ctx, key, buf.Bytes(), "application/x-tar"); err != nil {
		return nil, err
	}

	s.logger.Info("export packaged",
		zap.String("container_id", cid.String()),
		zap.String("artifact_id", artifact.String()),
		zap.Int("documents", docs),
		zap.Int("chunks", chunks))
	return map[string]any{
		"artifact_id": artifact.String(),
		"key":         key,
		"bytes":       buf.Len(),
		"documents":   docs,
		"chunks":      chunks,
	}, nil
}

func addFile(tw *tar.Writer, name string, data []byte, mod time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: mod,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return apperr.Internal("write archive header", err)
	}
	if _, err := tw.Write(data); err != nil {
		return apperr.Internal("write archive entry", err)
	}
	return nil
}

func writeLine(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Internal("encode export row", err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}
