package search

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/llcontext/llcd/internal/domain"
)

func TestRenderSnippet(t *testing.T) {
	t.Run("collapses whitespace", func(t *testing.T) {
		ch := &domain.Chunk{Text: "  broken \n\t color   passages  "}
		assert.Equal(t, "broken color passages", renderSnippet(ch, 320))
	})

	t.Run("page prefix", func(t *testing.T) {
		ch := &domain.Chunk{
			Text:       "study of light",
			Provenance: map[string]any{"page": float64(7)},
		}
		assert.Equal(t, "[p.7] study of light", renderSnippet(ch, 320))
	})

	t.Run("section prefix", func(t *testing.T) {
		ch := &domain.Chunk{
			Text:       "study of light",
			Provenance: map[string]any{"section": "Technique"},
		}
		assert.Equal(t, "[Technique] study of light", renderSnippet(ch, 320))
	})

	t.Run("page before section", func(t *testing.T) {
		ch := &domain.Chunk{
			Text:       "study of light",
			Provenance: map[string]any{"page": 2, "section": "Technique"},
		}
		assert.Equal(t, "[p.2] [Technique] study of light", renderSnippet(ch, 320))
	})

	t.Run("clamp never splits a rune", func(t *testing.T) {
		ch := &domain.Chunk{Text: strings.Repeat("日本語テキスト ", 40)}
		for max := 10; max < 40; max++ {
			got := renderSnippet(ch, max)
			assert.True(t, utf8.ValidString(got), "max=%d", max)
			assert.LessOrEqual(t, len(got), max)
		}
	})

	t.Run("zero max keeps everything", func(t *testing.T) {
		ch := &domain.Chunk{Text: strings.Repeat("x", 500)}
		assert.Len(t, renderSnippet(ch, 0), 500)
	})
}
