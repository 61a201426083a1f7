package domain

import "time"

// DocumentCandidate is the denormalized projection returned by either
// retrieval channel or loaded from the relational store.
type DocumentCandidate struct {
	DocumentID int64          `json:"document_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Summary    string         `json:"summary,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Reference struct {
	DocumentID int64  `json:"document_id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

// TemplateField is one level of a classification template.
type TemplateField struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
	IsDocType   bool   `json:"is_doc_type,omitempty"`
	Example     string `json:"placeholder_example,omitempty"`
}

type Template struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version,omitempty"`
	Fields      []TemplateField `json:"levels"`
}

// DocTypeField returns the field whose value names the document type.
func (t Template) DocTypeField() (TemplateField, bool) {
	for _, f := range t.Fields {
		if f.IsDocType {
			return f, true
		}
	}
	return TemplateField{}, false
}

type TypeField struct {
	Name        string    `json:"field_name"`
	Description string    `json:"description,omitempty"`
	Type        FieldType `json:"field_type"`
}

type DocumentType struct {
	ID          int64       `json:"id"`
	TemplateID  int64       `json:"template_id"`
	Code        string      `json:"type_code"`
	Name        string      `json:"type_name"`
	Description string      `json:"description,omitempty"`
	Fields      []TypeField `json:"fields"`
}

// IndexDocument is the full-text index projection of one stored document.
type IndexDocument struct {
	DocumentID    int64          `json:"document_id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Summary       string         `json:"summary,omitempty"`
	TemplateID    int64          `json:"template_id"`
	ClassCode     string         `json:"class_code,omitempty"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
	FileType      string         `json:"file_type,omitempty"`
	UploadedAt    time.Time      `json:"upload_time"`
}

type IndexOperation string

const (
	IndexUpsert IndexOperation = "upsert"
	IndexDelete IndexOperation = "delete"
)

type IndexEvent struct {
	DocumentID int64          `json:"document_id"`
	Operation  IndexOperation `json:"op"`
}
