package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llcontext/llcd/internal/domain"
)

func TestDetectModality(t *testing.T) {
	cases := []struct {
		name string
		src  domain.IngestSource
		want domain.Modality
	}{
		{"explicit hint wins", domain.IngestSource{Modality: domain.ModalityPDF, MIME: "image/png"}, domain.ModalityPDF},
		{"pdf mime", domain.IngestSource{MIME: "application/pdf"}, domain.ModalityPDF},
		{"image mime", domain.IngestSource{MIME: "image/jpeg"}, domain.ModalityImage},
		{"text mime", domain.IngestSource{MIME: "text/markdown"}, domain.ModalityText},
		{"pdf extension", domain.IngestSource{URI: "https://example.com/monet.pdf"}, domain.ModalityPDF},
		{"image extension with query", domain.IngestSource{URI: "https://example.com/sunrise.PNG?v=2"}, domain.ModalityImage},
		{"bare uri", domain.IngestSource{URI: "https://example.com/notes"}, domain.ModalityText},
		{"nothing", domain.IngestSource{}, domain.ModalityText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectModality(tc.src))
		})
	}
}
