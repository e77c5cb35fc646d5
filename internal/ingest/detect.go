package ingest

import (
	"path"
	"strings"

	"github.com/llcontext/llcd/internal/domain"
)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".bmp": {},
}

// DetectModality resolves a source's modality from its explicit hint first,
// then the MIME type, then the URI extension. Unknown sources are text.
func DetectModality(src domain.IngestSource) domain.Modality {
	if src.Modality.Valid() {
		return src.Modality
	}
	mime := strings.ToLower(src.MIME)
	switch {
	case strings.Contains(mime, "pdf"):
		return domain.ModalityPDF
	case strings.HasPrefix(mime, "image/"):
		return domain.ModalityImage
	case mime != "":
		return domain.ModalityText
	}
	ext := strings.ToLower(path.Ext(stripQuery(src.URI)))
	if ext == ".pdf" {
		return domain.ModalityPDF
	}
	if _, ok := imageExtensions[ext]; ok {
		return domain.ModalityImage
	}
	return domain.ModalityText
}

func stripQuery(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[:i]
	}
	return uri
}
