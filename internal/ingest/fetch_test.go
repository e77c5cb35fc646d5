package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

func newTestFetcher(blobs *fakeBlob) *Fetcher {
	return NewFetcher(blobs, time.Second, 1<<20, zap.NewNop())
}

func TestFetch_InlineText(t *testing.T) {
	f := newTestFetcher(newFakeBlob())
	data, ctype, err := f.Fetch(context.Background(), domain.IngestSource{
		Meta: map[string]any{"text": "inline body"},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "inline body", string(data))
	assert.Equal(t, "text/plain", ctype)
}

func TestFetch_FileToken(t *testing.T) {
	blobs := newFakeBlob()
	blobs.objects["uploads/tok-1"] = []byte("uploaded bytes")

	f := newTestFetcher(blobs)
	data, _, err := f.Fetch(context.Background(), domain.IngestSource{FileToken: "tok-1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "uploaded bytes", string(data))
}

func TestFetch_UnknownTokenIsTerminal(t *testing.T) {
	f := newTestFetcher(newFakeBlob())
	_, _, err := f.Fetch(context.Background(), domain.IngestSource{FileToken: "missing"}, 0)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.False(t, apperr.IsRetryable(err))
}

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# remote doc"))
	}))
	defer srv.Close()

	f := newTestFetcher(newFakeBlob())
	data, ctype, err := f.Fetch(context.Background(), domain.IngestSource{URI: srv.URL}, 0)
	require.NoError(t, err)
	assert.Equal(t, "# remote doc", string(data))
	assert.Equal(t, "text/markdown", ctype)
}

func TestFetch_StatusRetryability(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"not found is terminal", http.StatusNotFound, false},
		{"forbidden is terminal", http.StatusForbidden, false},
		{"server error retries", http.StatusInternalServerError, true},
		{"bad gateway retries", http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			f := newTestFetcher(newFakeBlob())
			_, _, err := f.Fetch(context.Background(), domain.IngestSource{URI: srv.URL}, 0)
			require.Error(t, err)
			assert.Equal(t, "FETCH_FAILED", apperr.CodeOf(err))
			assert.Equal(t, tc.retryable, apperr.IsRetryable(err))
		})
	}
}

func TestFetch_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	f := newTestFetcher(newFakeBlob())
	_, _, err := f.Fetch(context.Background(), domain.IngestSource{URI: srv.URL}, 100)
	require.Error(t, err)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", apperr.CodeOf(err))
}

func TestFetch_RejectsOtherSchemes(t *testing.T) {
	f := newTestFetcher(newFakeBlob())
	for _, uri := range []string{"ftp://host/file", "file:///etc/passwd", ""} {
		_, _, err := f.Fetch(context.Background(), domain.IngestSource{URI: uri}, 0)
		require.Error(t, err, uri)
		assert.Equal(t, "FETCH_FAILED", apperr.CodeOf(err))
	}
}
