package service

import (
	"unicode"
)

// DefaultMaxChunkSize is used when a caller does not pick a chunk size.
const DefaultMaxChunkSize = 1000

// ChunkText splits text into ordered chunks of at most maxChunkSize runes.
//
// Paragraphs (blocks separated by a blank line) are packed greedily into chunks.
// A paragraph that is too long on its own is packed sentence by sentence, and a
// sentence that is still too long is cut into fixed slices of maxChunkSize runes.
// Every chunk is a contiguous substring of text, so joining the chunks with no
// separator gives back the original input. Text that already fits, including the
// empty string, is returned as the single chunk.
func ChunkText(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= maxChunkSize {
		return []string{text}
	}

	return pack(splitParagraphs(runes), maxChunkSize, func(paragraph []rune) []string {
		return pack(splitSentences(paragraph), maxChunkSize, func(sentence []rune) []string {
			return sliceFixed(sentence, maxChunkSize)
		})
	})
}

// pack accumulates segments into chunks of at most max runes. Segments larger
// than max flush the buffer and are handed to split instead.
func pack(segments [][]rune, max int, split func([]rune) []string) []string {
	var chunks []string
	var buf []rune

	flush := func() {
		if len(buf) > 0 {
			chunks = append(chunks, string(buf))
			buf = nil
		}
	}

	for _, seg := range segments {
		if len(seg) > max {
			flush()
			chunks = append(chunks, split(seg)...)
			continue
		}
		if len(buf)+len(seg) > max {
			flush()
		}
		buf = append(buf, seg...)
	}
	flush()

	return chunks
}

// splitParagraphs cuts after every whitespace run holding two or more newlines.
// The separator stays attached to the paragraph before it. Leading whitespace
// stays with the first paragraph so no segment is whitespace only.
func splitParagraphs(r []rune) [][]rune {
	var segs [][]rune
	start := 0
	for i := 0; i < len(r); {
		if !unicode.IsSpace(r[i]) {
			i++
			continue
		}
		j := i
		newlines := 0
		for j < len(r) && unicode.IsSpace(r[j]) {
			if r[j] == '\n' {
				newlines++
			}
			j++
		}
		if newlines >= 2 && j < len(r) && i > start {
			segs = append(segs, r[start:j])
			start = j
		}
		i = j
	}
	if start < len(r) {
		segs = append(segs, r[start:])
	}
	return segs
}

// splitSentences cuts after '.', '!' or '?' followed by whitespace, keeping the
// whitespace with the sentence it ends.
func splitSentences(r []rune) [][]rune {
	var segs [][]rune
	start := 0
	for i := 0; i < len(r); i++ {
		if !isSentenceTerminator(r[i]) {
			continue
		}
		j := i + 1
		for j < len(r) && unicode.IsSpace(r[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		if j < len(r) {
			segs = append(segs, r[start:j])
			start = j
		}
		i = j - 1
	}
	if start < len(r) {
		segs = append(segs, r[start:])
	}
	return segs
}

func isSentenceTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// sliceFixed cuts r into pieces of at most size runes. When only whitespace
// would follow a cut, the cut moves back to the last non-space rune so the
// trailing whitespace does not become a piece of its own.
func sliceFixed(r []rune, size int) []string {
	last := lastNonSpace(r)
	out := make([]string, 0, (len(r)+size-1)/size)
	for start := 0; start < len(r); {
		end := start + size
		switch {
		case end >= len(r):
			end = len(r)
		case end > last && last > start && len(r)-last <= size:
			end = last
		}
		out = append(out, string(r[start:end]))
		start = end
	}
	return out
}

// lastNonSpace returns the index of the last non-space rune, or -1
func lastNonSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if !unicode.IsSpace(r[i]) {
			return i
		}
	}
	return -1
}
