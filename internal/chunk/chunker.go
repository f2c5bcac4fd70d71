// Package chunk splits file content into line-aligned byte ranges sized for
// embedding. Ranges slice back into the original bytes exactly, so a chunk's
// text can always be recovered from the file version it came from.
package chunk

import (
	"bytes"

	"github.com/hyperjump/shirabe/internal/models"
)

// Chunker splits content into chunks of roughly maxBytes, breaking only at
// line boundaries, with overlapLines of context repeated between neighbors.
type Chunker struct {
	maxBytes     int
	overlapLines int
}

// NewChunker creates a chunker. maxBytes is a soft limit: a single line
// longer than it still becomes one chunk, never split mid-line.
func NewChunker(maxBytes, overlapLines int) *Chunker {
	if maxBytes <= 0 {
		maxBytes = 2048
	}
	if overlapLines < 0 {
		overlapLines = 0
	}
	return &Chunker{maxBytes: maxBytes, overlapLines: overlapLines}
}

type lineSpan struct {
	start, end int // byte offsets, end exclusive, newline included
}

func lineSpans(content []byte) []lineSpan {
	var spans []lineSpan
	start := 0
	for i, b := range content {
		if b == '\n' {
			spans = append(spans, lineSpan{start, i + 1})
			start = i + 1
		}
	}
	if start < len(content) {
		spans = append(spans, lineSpan{start, len(content)})
	}
	return spans
}

// Split chunks content for path. Empty and binary content yields nil.
func (c *Chunker) Split(path string, content []byte) []models.Chunk {
	if len(content) == 0 || bytes.IndexByte(content, 0) >= 0 {
		return nil
	}
	spans := lineSpans(content)
	language := LanguageForPath(path)

	var chunks []models.Chunk
	i := 0
	for i < len(spans) {
		start := i
		size := 0
		j := i
		for j < len(spans) {
			lineLen := spans[j].end - spans[j].start
			if size > 0 && size+lineLen > c.maxBytes {
				break
			}
			size += lineLen
			j++
		}

		startByte := spans[start].start
		endByte := spans[j-1].end
		chunks = append(chunks, models.Chunk{
			Path:      path,
			StartByte: startByte,
			EndByte:   endByte,
			StartLine: start + 1,
			EndLine:   j,
			Text:      string(content[startByte:endByte]),
			Language:  language,
		})

		if j >= len(spans) {
			break
		}
		next := j - c.overlapLines
		if next <= start {
			next = start + 1
		}
		i = next
	}
	return chunks
}
