// Package extract turns uploaded documents into plain text for ingestion.
// Extractors are looked up by media type in a Registry.
package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cloo-solutions/recall/internal/domain"
)

// Extractor reads a document and returns its text content
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface
type ExtractorFunc func(ctx context.Context, r io.Reader) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, r io.Reader) (string, error) {
	return f(ctx, r)
}

const (
	MediaTypePlain    = "text/plain"
	MediaTypeMarkdown = "text/markdown"
	MediaTypeHTML     = "text/html"
)

// Registry maps media types to extractors. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the plain text, markdown and HTML extractors
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	r.mustRegister(MediaTypePlain, PlainText())
	r.mustRegister(MediaTypeMarkdown, Markdown())
	r.mustRegister("text/x-markdown", Markdown())
	r.mustRegister(MediaTypeHTML, HTML())
	return r
}

// NewEmptyRegistry returns a registry without extractors
func NewEmptyRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register adds an extractor for a media type. Registering the same type twice fails.
func (r *Registry) Register(mediaType string, e Extractor) error {
	key, err := normalize(mediaType)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("extractor for %q cannot be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.extractors[key]; exists {
		return fmt.Errorf("extractor for %q already registered", key)
	}
	r.extractors[key] = e
	return nil
}

func (r *Registry) mustRegister(mediaType string, e Extractor) {
	if err := r.Register(mediaType, e); err != nil {
		panic(err)
	}
}

// Lookup finds the extractor for a Content-Type value. Parameters such as
// charset are ignored.
func (r *Registry) Lookup(contentType string) (Extractor, error) {
	key, err := normalize(contentType)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.extractors[key]
	if !ok {
		return nil, domain.ErrUnsupportedContentType.WithCause(fmt.Errorf("no extractor for %q", key))
	}
	return e, nil
}

// Supports reports whether an extractor is registered for contentType
func (r *Registry) Supports(contentType string) bool {
	_, err := r.Lookup(contentType)
	return err == nil
}

// Extract looks up the extractor for contentType and runs it
func (r *Registry) Extract(ctx context.Context, contentType string, body io.Reader) (string, error) {
	e, err := r.Lookup(contentType)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.Extract(ctx, body)
}

// MediaTypes lists the registered media types in sorted order
func (r *Registry) MediaTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.extractors))
	for k := range r.extractors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MediaTypeForFilename guesses the media type of a file from its extension.
// It returns "" when the extension is unknown.
func MediaTypeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return MediaTypeMarkdown
	case ".txt", ".text":
		return MediaTypePlain
	case ".htm", ".html":
		return MediaTypeHTML
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return ""
}

func normalize(contentType string) (string, error) {
	if strings.TrimSpace(contentType) == "" {
		return "", domain.ErrUnsupportedContentType.WithCause(fmt.Errorf("content type is empty"))
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", domain.ErrUnsupportedContentType.WithCause(err)
	}
	return mediaType, nil
}

func readUTF8(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	if !utf8.Valid(data) {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "document is not valid UTF-8")
	}
	return string(data), nil
}
