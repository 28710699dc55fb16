package domain

import (
	"strings"
)

// SourceType tags what kind of document a chunk was cut from
type SourceType string

const (
	SourceTypeFile          SourceType = "file"
	SourceTypeMessage       SourceType = "message"
	SourceTypeKnowledgeNode SourceType = "knowledge_node"
)

// SourceTypes lists every supported source type
var SourceTypes = []SourceType{
	SourceTypeFile,
	SourceTypeMessage,
	SourceTypeKnowledgeNode,
}

// IsValid reports whether s is a supported source type
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeFile, SourceTypeMessage, SourceTypeKnowledgeNode:
		return true
	}
	return false
}

// ParseSourceType parses a source type, accepting the hyphenated spelling too
func ParseSourceType(raw string) (SourceType, error) {
	st := SourceType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if !st.IsValid() {
		return "", ErrInvalidSourceType
	}
	return st, nil
}

const scopeSeparator = "/"

// ScopeFor narrows a tenant scope to one subject (an end user, a workspace).
// An empty subject leaves the tenant scope unchanged.
func ScopeFor(tenant, subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return tenant
	}
	return tenant + scopeSeparator + subject
}

// ValidateScope rejects empty owner scopes
func ValidateScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return ErrInvalidScope
	}
	return nil
}
