// Package segment splits raw document text into overlapping chunks
// suitable for vector indexing.
package segment

import (
	"strings"
	"unicode/utf8"
)

// Chunk is a bounded-length segment of source text tagged with its
// originating document. Chunks are immutable once emitted and carry no
// identity that survives a re-segmentation run.
type Chunk struct {
	Text   string
	Source string
}

// separators are tried in priority order when choosing a cut point:
// paragraph break, line break, word break, then a raw character cut.
var separators = []string{"\n\n", "\n", " "}

// Splitter cuts text into windows of at most ChunkSize characters where
// consecutive windows share at least Overlap characters of source text.
type Splitter struct {
	chunkSize int
	overlap   int
}

// New returns a Splitter. Non-positive sizes fall back to the given
// defaults' spirit: a zero or negative chunk size becomes 1, and an
// overlap that does not leave room for forward progress is reduced to a
// quarter of the chunk size.
func New(chunkSize, overlap int) *Splitter {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

// Split segments text into chunks tagged with source. Empty or
// whitespace-only input yields no chunks.
//
// For every chunk beyond the first, the chunk's start offset in the
// source text is exactly the previous chunk's end offset minus the
// overlap, so consecutive chunks always share the configured overlap of
// source text. The final chunk may be shorter than the chunk size.
func (s *Splitter) Split(text, source string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	length := len(text)
	chunks := make([]Chunk, 0, length/(s.chunkSize-s.overlap)+1)

	start := 0
	for start < length {
		end := start + s.chunkSize
		if end >= length {
			chunks = append(chunks, Chunk{Text: text[start:], Source: source})
			break
		}

		end = s.cutPoint(text, start, end)
		chunks = append(chunks, Chunk{Text: text[start:end], Source: source})
		start = end - s.overlap
	}

	return chunks
}

// cutPoint picks the end offset for a chunk beginning at start, whose
// hard limit is limit. It prefers the last separator occurrence inside
// the window, walking the separator priority list, and only accepts a
// cut that still advances past the overlap region so the next chunk
// makes forward progress.
func (s *Splitter) cutPoint(text string, start, limit int) int {
	window := text[start:limit]
	floor := s.overlap + 1 // minimum chunk length that still advances

	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		end := idx + len(sep)
		if end >= floor {
			return start + end
		}
	}
	// No usable separator: raw cut at the window limit, backed off to a
	// rune boundary so a multi-byte character is never split. The backoff
	// stops at the floor to keep forward progress on degenerate sizes.
	for limit > start+floor && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}
