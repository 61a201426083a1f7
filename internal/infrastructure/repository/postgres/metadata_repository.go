package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

// MetadataRepository reads templates, type schemas and documents.
type MetadataRepository struct {
	db *sql.DB
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

func (r *MetadataRepository) GetTemplate(ctx context.Context, scopeID int64) (*domain.Template, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, COALESCE(description, ''), COALESCE(version, ''), levels
FROM class_templates
WHERE id = $1 AND is_active
`, scopeID)

	var tmpl domain.Template
	var levels []byte
	if err := row.Scan(&tmpl.ID, &tmpl.Name, &tmpl.Description, &tmpl.Version, &levels); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTemplateNotFound, "get template", fmt.Errorf("id %d", scopeID))
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &tmpl.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal template levels: %w", err)
		}
	}
	return &tmpl, nil
}

func (r *MetadataRepository) GetDocumentType(ctx context.Context, scopeID int64, typeCode string) (*domain.DocumentType, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, template_id, type_code, type_name, COALESCE(description, '')
FROM document_types
WHERE template_id = $1 AND type_code = $2 AND is_active
`, scopeID, typeCode)

	var docType domain.DocumentType
	if err := row.Scan(&docType.ID, &docType.TemplateID, &docType.Code, &docType.Name, &docType.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentTypeNotFound, "get document type", fmt.Errorf("%q in template %d", typeCode, scopeID))
		}
		return nil, fmt.Errorf("scan document type: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT field_name, COALESCE(description, ''), field_type
FROM document_type_fields
WHERE doc_type_id = $1
ORDER BY id
`, docType.ID)
	if err != nil {
		return nil, fmt.Errorf("list document type fields: %w", err)
	}
	defer rows.Close()

	docType.Fields = make([]domain.TypeField, 0)
	for rows.Next() {
		var field domain.TypeField
		var fieldType string
		if err := rows.Scan(&field.Name, &field.Description, &fieldType); err != nil {
			return nil, fmt.Errorf("scan document type field: %w", err)
		}
		field.Type = domain.FieldType(strings.ToLower(strings.TrimSpace(fieldType)))
		docType.Fields = append(docType.Fields, field)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document type fields: %w", err)
	}
	return &docType, nil
}

// FindDocumentIDs returns documents of the scope whose class code or
// extracted data contains any of values, newest first.
func (r *MetadataRepository) FindDocumentIDs(ctx context.Context, scopeID int64, values []string, limit int) ([]int64, error) {
	args := []any{scopeID}
	clauses := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		args = append(args, "%"+escapeLike(v)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(`m.class_code ILIKE $%d ESCAPE '\' OR m.extracted_data::text ILIKE $%d ESCAPE '\'`, n, n))
	}
	if len(clauses) == 0 {
		return []int64{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT m.document_id
FROM template_document_mappings m
JOIN documents d ON d.id = m.document_id
WHERE m.template_id = $1 AND (%s)
ORDER BY d.upload_time DESC, m.document_id
LIMIT $%d
`, strings.Join(clauses, " OR "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find document ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document ids: %w", err)
	}
	return ids, nil
}

// LoadDocuments returns the documents that exist among ids, in no particular order.
func (r *MetadataRepository) LoadDocuments(ctx context.Context, ids []int64) ([]domain.DocumentCandidate, error) {
	if len(ids) == 0 {
		return []domain.DocumentCandidate{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT d.id, d.title, COALESCE(d.content_text, ''), COALESCE(d.summary, ''), COALESCE(m.class_code, ''), m.extracted_data
FROM documents d
LEFT JOIN LATERAL (
	SELECT class_code, extracted_data
	FROM template_document_mappings
	WHERE document_id = d.id
	ORDER BY template_id DESC
	LIMIT 1
) m ON TRUE
WHERE d.id = ANY($1)
`, ids)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentCandidate, 0, len(ids))
	for rows.Next() {
		var doc domain.DocumentCandidate
		var classCode string
		var extracted []byte
		if err := rows.Scan(&doc.DocumentID, &doc.Title, &doc.Content, &doc.Summary, &classCode, &extracted); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Metadata = map[string]any{}
		if len(extracted) > 0 {
			if err := json.Unmarshal(extracted, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal extracted data: %w", err)
			}
		}
		if classCode != "" {
			doc.Metadata["class_code"] = classCode
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *MetadataRepository) LoadSummaries(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, summary
FROM documents
WHERE id = ANY($1) AND summary IS NOT NULL AND summary <> ''
`, ids)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var summary string
		if err := rows.Scan(&id, &summary); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out[id] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

// GetIndexDocument builds the index projection of one document. A document
// mapped under several templates is indexed under the highest template id.
func (r *MetadataRepository) GetIndexDocument(ctx context.Context, documentID int64) (*domain.IndexDocument, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT d.id, d.title, COALESCE(d.content_text, ''), COALESCE(d.summary, ''), COALESCE(d.file_type, ''), d.upload_time,
	COALESCE(m.template_id, 0), COALESCE(m.class_code, ''), m.extracted_data
FROM documents d
LEFT JOIN LATERAL (
	SELECT template_id, class_code, extracted_data
	FROM template_document_mappings
	WHERE document_id = d.id
	ORDER BY template_id DESC
	LIMIT 1
) m ON TRUE
WHERE d.id = $1
`, documentID)

	var doc domain.IndexDocument
	var extracted []byte
	err := row.Scan(&doc.DocumentID, &doc.Title, &doc.Content, &doc.Summary, &doc.FileType, &doc.UploadedAt,
		&doc.TemplateID, &doc.ClassCode, &extracted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get index document", fmt.Errorf("id %d", documentID))
		}
		return nil, fmt.Errorf("scan index document: %w", err)
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &doc.ExtractedData); err != nil {
			return nil, fmt.Errorf("unmarshal extracted data: %w", err)
		}
	}
	return &doc, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
