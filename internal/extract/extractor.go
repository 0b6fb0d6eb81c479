// Package extract turns vault file bytes into indexable text.
package extract

import (
	"fmt"
	"strings"
)

type extractFunc func(content []byte) (string, error)

var byExtension = map[string]extractFunc{
	".md":   plainText,
	".txt":  plainText,
	".pdf":  pdfText,
	".docx": docxText,
	".xlsx": excelText,
}

// Supported reports whether ext (with leading dot, any case) has an extractor.
func Supported(ext string) bool {
	_, ok := byExtension[strings.ToLower(ext)]
	return ok
}

// Text extracts the text of content according to ext.
// Markdown and plain text are returned as UTF-8 with invalid sequences replaced.
func Text(content []byte, ext string) (string, error) {
	fn, ok := byExtension[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
	text, err := fn(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext, err)
	}
	return text, nil
}
