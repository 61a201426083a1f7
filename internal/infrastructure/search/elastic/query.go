package elastic

import (
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "document_id":  {"type": "long"},
      "title":        {"type": "text"},
      "content":      {"type": "text"},
      "summary":      {"type": "text"},
      "template_id":  {"type": "long"},
      "class_code":   {"type": "keyword"},
      "metadata":     {"type": "object", "dynamic": true},
      "file_type":    {"type": "keyword"},
      "upload_time":  {"type": "date"}
    }
  }
}`

// indexedDocument is the stored _source of one archive document.
type indexedDocument struct {
	DocumentID int64          `json:"document_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Summary    string         `json:"summary,omitempty"`
	TemplateID int64          `json:"template_id,omitempty"`
	ClassCode  string         `json:"class_code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	FileType   string         `json:"file_type,omitempty"`
	UploadTime *time.Time     `json:"upload_time,omitempty"`
}

func toIndexed(doc domain.IndexDocument) indexedDocument {
	out := indexedDocument{
		DocumentID: doc.DocumentID,
		Title:      doc.Title,
		Content:    doc.Content,
		Summary:    doc.Summary,
		TemplateID: doc.TemplateID,
		ClassCode:  doc.ClassCode,
		Metadata:   doc.ExtractedData,
		FileType:   doc.FileType,
	}
	if !doc.UploadedAt.IsZero() {
		uploaded := doc.UploadedAt.UTC()
		out.UploadTime = &uploaded
	}
	return out
}

// buildSearchQuery turns a request into a bool query. Text is scored with
// multi_match; conditions must all hold; scope and id restrictions filter.
func buildSearchQuery(req domain.SearchRequest) map[string]any {
	must := make([]map[string]any, 0, len(req.Conditions)+1)
	if req.Text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  req.Text,
				"fields": []string{"title^3", "content"},
			},
		})
	}
	for _, cond := range req.Conditions {
		if !cond.Determinable() {
			continue
		}
		must = append(must, conditionClause(cond))
	}
	if len(must) == 0 {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}

	filter := make([]map[string]any, 0, 2)
	if req.ScopeID > 0 {
		filter = append(filter, map[string]any{"term": map[string]any{"template_id": req.ScopeID}})
	}
	if len(req.RestrictIDs) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"document_id": req.RestrictIDs}})
	}

	size := req.Size
	if size <= 0 {
		size = 10
	}
	return map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"must":   must,
				"filter": filter,
			},
		},
		"_source": []string{"document_id", "title", "content", "summary", "metadata"},
	}
}

// conditionClause matches free-text fields fuzzily, dates from the given
// day onward, and everything else exactly.
func conditionClause(cond domain.FieldCondition) map[string]any {
	field := "metadata." + cond.FieldName
	switch cond.FieldName {
	case "title", "content":
		field = cond.FieldName
	}
	switch {
	case cond.FieldType.IsFreeText():
		return map[string]any{"match": map[string]any{field: map[string]any{"query": cond.Value, "fuzziness": "AUTO"}}}
	case cond.FieldType.IsDate():
		return map[string]any{"range": map[string]any{field: map[string]any{"gte": cond.Value}}}
	default:
		return map[string]any{"term": map[string]any{field: cond.Value}}
	}
}
