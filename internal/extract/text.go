package extract

import (
	"context"
	"io"
	"strings"
)

// PlainText returns the document unchanged
func PlainText() Extractor {
	return ExtractorFunc(func(ctx context.Context, r io.Reader) (string, error) {
		return readUTF8(r)
	})
}

// Markdown keeps the markup, which carries meaning for embeddings, and drops
// a leading front matter block.
func Markdown() Extractor {
	return ExtractorFunc(func(ctx context.Context, r io.Reader) (string, error) {
		text, err := readUTF8(r)
		if err != nil {
			return "", err
		}
		return stripFrontMatter(text), nil
	})
}

func stripFrontMatter(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return text
	}
	end := strings.Index(normalized[4:], "\n---")
	if end < 0 {
		return text
	}
	rest := normalized[4+end+4:]
	// The closing fence must end its line.
	if rest != "" && rest[0] != '\n' {
		return text
	}
	return strings.TrimLeft(rest, "\n")
}
