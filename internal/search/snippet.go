package search

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/obra/internal/indexer"
	"github.com/hyperjump/obra/pkg/utils"
)

const (
	minSnippetLen = 10
	minContentLen = 15
	fallbackRunes = 90
)

// Snippet extracts a one-line preview from chunk text: the first sentence of
// the first non-empty line after the context header. A preview shorter than
// minSnippetLen falls back to the start of the content on a single line.
func Snippet(text string) string {
	if i := strings.LastIndex(text, indexer.HeaderEnd); i >= 0 {
		text = text[i+len(indexer.HeaderEnd):]
	}
	content := strings.TrimSpace(text)

	var line string
	for _, l := range strings.Split(content, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if i := strings.Index(line, ". "); i >= 0 {
		line = line[:i+1]
	}
	if utf8.RuneCountInString(line) < minSnippetLen && utf8.RuneCountInString(content) > minContentLen {
		flat := strings.Join(strings.Fields(content), " ")
		return utils.Truncate(flat, fallbackRunes)
	}
	return line
}
