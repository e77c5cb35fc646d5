package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
	"github.com/llcontext/llcd/internal/store/blob"
)

// uploadPrefix is the blob-store area pre-signed uploads land in. A file
// token is the object name under this prefix.
const uploadPrefix = "uploads/"

// Fetcher resolves an ingest source to raw bytes. Sources are, in order of
// precedence: inline text in the payload meta, a file token pointing at the
// blob store's upload area, or an http(s) URI.
type Fetcher struct {
	http    *http.Client
	blobs   blob.Store
	maxSize int64
	logger  *zap.Logger
}

func NewFetcher(blobs blob.Store, timeout time.Duration, maxSize int64, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		http:    &http.Client{Timeout: timeout},
		blobs:   blobs,
		maxSize: maxSize,
		logger:  logger.Named("fetch"),
	}
}

// Fetch returns the source bytes and the content type when the transport
// reported one. Deterministic failures (bad request, 4xx) are non-retryable;
// transport faults and 5xx are retryable.
func (f *Fetcher) Fetch(ctx context.Context, src domain.IngestSource, limit int64) ([]byte, string, error) {
	if limit <= 0 {
		limit = f.maxSize
	}

	if inline, ok := src.Meta["text"].(string); ok && strings.TrimSpace(inline) != "" {
		if limit > 0 && int64(len(inline)) > limit {
			return nil, "", apperr.Validation(string(domain.IssuePayloadTooLarge),
				fmt.Sprintf("inline text exceeds %d bytes", limit))
		}
		return []byte(inline), "text/plain", nil
	}

	if src.FileToken != "" {
		data, err := f.blobs.Get(ctx, uploadPrefix+src.FileToken)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return nil, "", apperr.Validation("FETCH_FAILED", "upload token not found: "+src.FileToken)
			}
			return nil, "", err
		}
		if limit > 0 && int64(len(data)) > limit {
			return nil, "", apperr.Validation(string(domain.IssuePayloadTooLarge),
				fmt.Sprintf("upload exceeds %d bytes", limit))
		}
		return data, src.MIME, nil
	}

	if src.URI == "" {
		return nil, "", apperr.Validation("FETCH_FAILED", "source has no uri, file token, or inline text")
	}
	if !strings.HasPrefix(src.URI, "http://") && !strings.HasPrefix(src.URI, "https://") {
		return nil, "", apperr.Validation("FETCH_FAILED", "unsupported uri scheme: "+src.URI)
	}
	return f.fetchHTTP(ctx, src.URI, limit)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, uri string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", apperr.Validation("FETCH_FAILED", "malformed uri: "+uri)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", apperr.Unavailable("FETCH_FAILED", "fetch "+uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, "", apperr.Unavailable("FETCH_FAILED",
			fmt.Sprintf("fetch %s: upstream status %d", uri, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, "", apperr.Validation("FETCH_FAILED",
			fmt.Sprintf("fetch %s: status %d", uri, resp.StatusCode))
	}

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", apperr.Unavailable("FETCH_FAILED", "read "+uri, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", apperr.Validation(string(domain.IssuePayloadTooLarge),
			fmt.Sprintf("source exceeds %d bytes", limit))
	}
	return data, resp.Header.Get("Content-Type"), nil
}
