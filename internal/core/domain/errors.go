package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound     = errors.New("document not found")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrDocumentTypeNotFound = errors.New("document type not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTemporary            = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

var kindNames = []struct {
	kind error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrTemporary, "temporary"},
	{ErrDocumentNotFound, "not_found"},
	{ErrTemplateNotFound, "not_found"},
	{ErrDocumentTypeNotFound, "not_found"},
	{ErrSessionNotFound, "not_found"},
	{ErrUnknownTool, "unknown_tool"},
}

// KindName labels err for logs and metrics: "" for nil, "internal" when no
// domain kind matches.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}
