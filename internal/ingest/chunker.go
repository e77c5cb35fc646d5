package ingest

import "strings"

const (
	// DefaultChunkSize is the character window for text and pdf chunking.
	DefaultChunkSize = 600
	// DefaultChunkOverlap is the number of trailing characters each window
	// shares with the next.
	DefaultChunkOverlap = 80
)

// Piece is one chunk window over normalized text. Offsets are rune positions
// into the normalized text, recorded before trimming.
type Piece struct {
	Text  string
	Start int
	End   int
}

// ChunkText splits normalized text into overlapping windows. Windows advance
// by size−overlap; a window that trims to nothing is dropped but still
// advances the cursor, so offsets stay monotonic.
func ChunkText(text string, size, overlap int) []Piece {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	// The cursor advances by size−overlap; anything less than one rune of
	// progress would walk backwards.
	if overlap >= size {
		overlap = size - 1
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var pieces []Piece
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" {
			pieces = append(pieces, Piece{Text: window, Start: start, End: end})
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return pieces
}
