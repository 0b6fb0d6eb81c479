// Package indexer chunks vault files and keeps the vector store in sync with the vault.
package indexer

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hyperjump/obra/internal/models"
)

// HeaderEnd terminates the context header prepended to every file's text.
const HeaderEnd = "--- START OF CONTENT ---\n"

// Chunker splits text into overlapping rune windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in characters).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Header builds the context header for the file at the vault key rel.
func Header(rel string) string {
	stem := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	breadcrumb := ""
	if dir := path.Dir(rel); dir != "." {
		breadcrumb = strings.ReplaceAll(dir, "/", " > ")
	}
	return fmt.Sprintf("FILE_NAME: %s\nHOLDER_FOLDERS: %s\nDOCUMENT_SUBJECT: %s\n%s", stem, breadcrumb, stem, HeaderEnd)
}

// Span is one window of a split text, with byte offsets into that text.
type Span struct {
	Text  string
	Start int
	End   int
}

// Split cuts text into windows of chunkSize runes, each starting
// chunkSize-chunkOverlap runes after the previous one. The result depends only
// on the text and the chunker's settings.
func (c *Chunker) Split(text string) []Span {
	if text == "" {
		return nil
	}
	// offsets[i] is the byte offset of rune i; offsets[n] == len(text).
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))
	n := len(offsets) - 1

	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	var spans []Span
	for start := 0; start < n; start += step {
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		spans = append(spans, Span{
			Text:  text[offsets[start]:offsets[end]],
			Start: offsets[start],
			End:   offsets[end],
		})
		if end == n {
			break
		}
	}
	return spans
}

// Chunk prepends the context header for rel to text and splits the result.
// Each chunk gets a fresh identity; offsets refer to text, with any part that
// falls inside the header clamped to 0.
func (c *Chunker) Chunk(rel, text string) []*models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	header := Header(rel)
	spans := c.Split(header + text)
	chunks := make([]*models.Chunk, 0, len(spans))
	for i, s := range spans {
		chunks = append(chunks, &models.Chunk{
			ID:          uuid.NewString(),
			Path:        rel,
			Index:       i,
			Text:        s.Text,
			StartOffset: max(0, s.Start-len(header)),
			EndOffset:   max(0, s.End-len(header)),
		})
	}
	return chunks
}
