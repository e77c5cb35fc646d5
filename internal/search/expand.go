package search

import (
	"strings"
	"unicode"
)

// stopwords dropped during expansion and keyword-overlap scoring.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "by": {}, "at": {}, "from": {},
	"as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {},
}

// synonyms is a small curated table; expansion appends these after the
// original token.
var synonyms = map[string][]string{
	"expressionist": {"expressionism", "expressive"},
	"brushwork":     {"stroke", "strokes", "mark"},
	"color":         {"colour", "hue"},
	"colour":        {"color", "hue"},
	"impasto":       {"thick", "texture", "textured"},
	"broken":        {"fragmented", "optical"},
	"warm":          {"hot"},
	"cool":          {"cold"},
	"spiritual":     {"inner", "soulful"},
	"abstract":      {"nonliteral", "nonobjective"},
}

// expandQuery produces deterministic lexical variants of the query: the
// original, plus a keyword form with stopwords removed and synonyms appended.
// The variants feed the BM25 stage; dense retrieval always uses the original.
func expandQuery(query string) []string {
	if query == "" {
		return nil
	}
	tokens := tokenize(query)

	var expanded []string
	seen := make(map[string]struct{})
	add := func(tok string) {
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		expanded = append(expanded, tok)
	}
	for _, tok := range tokens {
		add(tok)
		for _, syn := range synonyms[tok] {
			add(syn)
		}
	}

	variants := []string{query}
	if keyword := strings.Join(expanded, " "); keyword != "" && keyword != query {
		variants = append(variants, keyword)
	}
	return variants
}

// keywordOverlap is the fraction of the query's content tokens present in
// text. Used by the pseudo-rerank blend when no provider is configured.
func keywordOverlap(query, text string) float64 {
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return 0
	}
	tTokens := tokenSet(text)
	if len(tTokens) == 0 {
		return 0
	}
	hits := 0
	for tok := range qTokens {
		if _, ok := tTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

func tokenize(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	var out []string
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) <= 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}
