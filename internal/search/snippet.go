package search

import (
	"fmt"
	"strings"

	"github.com/llcontext/llcd/internal/domain"
)

// renderSnippet collapses whitespace and prefixes provenance hints, clamped
// to maxChars. Page numbers render as [p.N], sections as [name].
func renderSnippet(chunk *domain.Chunk, maxChars int) string {
	body := strings.Join(strings.Fields(chunk.Text), " ")

	var prefix []string
	if page, ok := provenanceInt(chunk.Provenance, "page"); ok {
		prefix = append(prefix, fmt.Sprintf("[p.%d]", page))
	}
	if section, ok := chunk.Provenance["section"].(string); ok && section != "" {
		prefix = append(prefix, "["+section+"]")
	}

	snippet := strings.TrimSpace(strings.Join(append(prefix, body), " "))
	if maxChars > 0 && len(snippet) > maxChars {
		snippet = clampUTF8(snippet, maxChars)
	}
	return snippet
}

func provenanceInt(m map[string]any, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case float64:
		if v > 0 {
			return int(v), true
		}
	}
	return 0, false
}

// clampUTF8 cuts at maxChars bytes without splitting a rune.
func clampUTF8(s string, maxChars int) string {
	cut := maxChars
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
