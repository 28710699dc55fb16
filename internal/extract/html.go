package extract

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
	atom.Svg:      true,
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Tr: true, atom.Ul: true, atom.Body: true,
}

const ctxCheckEvery = 512

// HTML extracts visible text. Script and style content is dropped and block
// elements are separated by blank lines so the chunker sees paragraphs.
func HTML() Extractor {
	return ExtractorFunc(extractHTML)
}

func extractHTML(ctx context.Context, r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	w := &textWriter{}
	skip, pre := 0, 0

	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}

		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("failed to parse html: %w", err)
			}
			return w.String(), nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			switch {
			case tag == atom.Title:
				// Titles live in <head> but are worth keeping.
				w.title = tt == html.StartTagToken
			case skippedElements[tag]:
				if tt == html.StartTagToken {
					skip++
				}
			case tag == atom.Br:
				w.lineBreak()
			case blockElements[tag]:
				if tag == atom.Pre && tt == html.StartTagToken {
					pre++
				}
				w.paragraphBreak()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			switch {
			case tag == atom.Title:
				if w.title {
					w.title = false
					w.paragraphBreak()
				}
			case skippedElements[tag]:
				if skip > 0 {
					skip--
				}
			case blockElements[tag]:
				if tag == atom.Pre && pre > 0 {
					pre--
				}
				w.paragraphBreak()
			}

		case html.TextToken:
			if skip > 0 && !w.title {
				continue
			}
			w.text(string(z.Text()), pre > 0)
		}
	}
}

// textWriter accumulates text, collapsing whitespace outside <pre> and
// never emitting more than one blank line in a row.
type textWriter struct {
	b        strings.Builder
	newlines int
	pending  bool
	title    bool
}

func (w *textWriter) text(s string, preformatted bool) {
	if !preformatted {
		s = collapseSpace(s)
		if w.newlines > 0 || w.pending || w.b.Len() == 0 {
			s = strings.TrimLeftFunc(s, unicode.IsSpace)
		}
	}
	if s == "" {
		return
	}
	w.flush()
	w.b.WriteString(s)
	w.newlines = trailingNewlines(s, w.newlines)
}

func (w *textWriter) lineBreak() {
	if w.b.Len() == 0 {
		return
	}
	w.trimTrailingSpace()
	w.b.WriteByte('\n')
	w.newlines++
}

func (w *textWriter) paragraphBreak() {
	if w.b.Len() > 0 {
		w.pending = true
	}
}

func (w *textWriter) flush() {
	if !w.pending {
		return
	}
	w.pending = false
	w.trimTrailingSpace()
	for w.newlines < 2 {
		w.b.WriteByte('\n')
		w.newlines++
	}
}

func (w *textWriter) trimTrailingSpace() {
	s := w.b.String()
	trimmed := strings.TrimRight(s, " \t")
	if len(trimmed) != len(s) {
		w.b.Reset()
		w.b.WriteString(trimmed)
	}
}

func (w *textWriter) String() string {
	return strings.TrimRightFunc(w.b.String(), unicode.IsSpace)
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	if space {
		b.WriteByte(' ')
	}
	return b.String()
}

func trailingNewlines(s string, prev int) int {
	n := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '\n':
			n++
		case ' ', '\t', '\r':
		default:
			return n
		}
	}
	return prev + n
}
