package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_ShortInputIsOneChunk(t *testing.T) {
	pieces := ChunkText("a small note about impasto", 600, 80)
	require.Len(t, pieces, 1)
	assert.Equal(t, "a small note about impasto", pieces[0].Text)
	assert.Equal(t, 0, pieces[0].Start)
	assert.Equal(t, 26, pieces[0].End)
}

func TestChunkText_WindowsOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 130) // 1300 runes
	pieces := ChunkText(text, 600, 80)

	require.Len(t, pieces, 3)
	assert.Equal(t, 0, pieces[0].Start)
	assert.Equal(t, 600, pieces[0].End)
	assert.Equal(t, 520, pieces[1].Start)
	assert.Equal(t, 1120, pieces[1].End)
	assert.Equal(t, 1040, pieces[2].Start)
	assert.Equal(t, 1300, pieces[2].End)

	// Each window shares its leading 80 runes with the previous tail.
	assert.Equal(t, pieces[0].Text[520:], pieces[1].Text[:80])
}

func TestChunkText_TrimsWindows(t *testing.T) {
	pieces := ChunkText("  padded  ", 600, 80)
	require.Len(t, pieces, 1)
	assert.Equal(t, "padded", pieces[0].Text)
}

func TestChunkText_EmptyAndBlank(t *testing.T) {
	assert.Nil(t, ChunkText("", 600, 80))
	assert.Empty(t, ChunkText("   ", 600, 80))
}

func TestChunkText_RuneOffsets(t *testing.T) {
	text := strings.Repeat("é", 700)
	pieces := ChunkText(text, 600, 80)
	require.Len(t, pieces, 2)
	assert.Equal(t, 600, len([]rune(pieces[0].Text)))
	assert.Equal(t, 520, pieces[1].Start)
	assert.Equal(t, 700, pieces[1].End)
}

func TestChunkText_OverlapAtLeastSizeStillAdvances(t *testing.T) {
	text := strings.Repeat("a", 200)
	pieces := ChunkText(text, 50, 60)

	require.NotEmpty(t, pieces)
	assert.Equal(t, 0, pieces[0].Start)
	for i := 1; i < len(pieces); i++ {
		assert.Greater(t, pieces[i].Start, pieces[i-1].Start)
		assert.Greater(t, pieces[i].End, pieces[i-1].End)
	}
	assert.Equal(t, 200, pieces[len(pieces)-1].End)
}

func TestChunkText_DefaultsApplied(t *testing.T) {
	text := strings.Repeat("x", 650)
	pieces := ChunkText(text, 0, -1)
	require.Len(t, pieces, 2)
	assert.Equal(t, 520, pieces[1].Start)
}
