package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandQuery(t *testing.T) {
	t.Run("appends synonym variant", func(t *testing.T) {
		variants := expandQuery("the expressionist brushwork")
		require.Len(t, variants, 2)
		assert.Equal(t, "the expressionist brushwork", variants[0])
		assert.Equal(t, "expressionist expressionism expressive brushwork stroke strokes mark", variants[1])
	})

	t.Run("drops stopwords and short tokens", func(t *testing.T) {
		variants := expandQuery("is it in a warm hue")
		require.Len(t, variants, 2)
		assert.Equal(t, "warm hot hue", variants[1])
	})

	t.Run("no expansion when nothing changes", func(t *testing.T) {
		variants := expandQuery("qdrant neo4j")
		assert.Equal(t, []string{"qdrant neo4j"}, variants)
	})

	t.Run("empty query", func(t *testing.T) {
		assert.Nil(t, expandQuery(""))
	})
}

func TestKeywordOverlap(t *testing.T) {
	assert.Equal(t, 1.0, keywordOverlap("color theory", "a short note on color theory"))
	assert.Equal(t, 0.5, keywordOverlap("color theory", "theory of forms"))
	assert.Equal(t, 0.0, keywordOverlap("color", "unrelated text entirely"))
	assert.Equal(t, 0.0, keywordOverlap("", "anything"))
	assert.Equal(t, 0.0, keywordOverlap("color", ""))
}

func TestTokenize_StripsPunctuation(t *testing.T) {
	assert.Equal(t, []string{"impasto", "thick", "paint"}, tokenize("Impasto: thick, paint!"))
}
