package ingest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/draw"

	"github.com/llcontext/llcd/internal/domain"
	apperr "github.com/llcontext/llcd/internal/errors"
)

// PageSpan maps a page number to its rune range in the normalized text.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

// Normalized is the canonical form of a fetched source. Text and pdf sources
// carry canonicalized text (pdf additionally page spans); image sources carry
// a bounded thumbnail and leave Text empty.
type Normalized struct {
	Text  string
	Pages []PageSpan
	Thumb []byte
}

var (
	spaceRun = regexp.MustCompile(`[ \t]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText canonicalizes whitespace: CRLF to LF, tab and space runs to
// one space, three-plus blank lines to one blank line, trimmed ends.
func NormalizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// NormalizePDF extracts text per page with rune offsets into the joined
// text. Pages past maxPages fail the source; empty pages keep their number
// but contribute no span.
func NormalizePDF(data []byte, maxPages int) (norm *Normalized, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			norm, err = nil, apperr.Validation("UNREADABLE_SOURCE", fmt.Sprintf("pdf parse failed: %v", r))
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Validation("UNREADABLE_SOURCE", "pdf parse failed: "+err.Error())
	}
	total := reader.NumPage()
	if maxPages > 0 && total > maxPages {
		return nil, apperr.Validation(string(domain.IssuePayloadTooLarge),
			fmt.Sprintf("pdf has %d pages, limit is %d", total, maxPages))
	}

	var (
		b      strings.Builder
		pages  []PageSpan
		offset int
	)
	for num := 1; num <= total; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text := NormalizeText(raw)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
			offset += 2
		}
		start := offset
		b.WriteString(text)
		offset += len([]rune(text))
		pages = append(pages, PageSpan{Page: num, Start: start, End: offset})
	}
	return &Normalized{Text: b.String(), Pages: pages}, nil
}

// NormalizeImage decodes the image and renders a thumbnail whose longest
// edge is bounded by maxEdge. Images already within bounds are re-encoded
// as-is sized.
func NormalizeImage(data []byte, maxEdge int) (*Normalized, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validation("UNREADABLE_SOURCE", "image decode failed: "+err.Error())
	}
	if maxEdge <= 0 {
		maxEdge = 2048
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest > maxEdge {
		scale := float64(maxEdge) / float64(longest)
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, apperr.Internal("thumbnail encode failed", err)
	}
	return &Normalized{Thumb: buf.Bytes()}, nil
}

// pageFor returns the page number covering a rune offset, or 0 when the
// source has no page spans.
func pageFor(pages []PageSpan, offset int) int {
	for _, span := range pages {
		if offset >= span.Start && offset < span.End {
			return span.Page
		}
	}
	if len(pages) > 0 && offset >= pages[len(pages)-1].End {
		return pages[len(pages)-1].Page
	}
	return 0
}
