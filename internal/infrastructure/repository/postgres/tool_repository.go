package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

const (
	toolTemplateStatistics = "get_template_statistics"
	toolSearchByClass      = "search_documents_by_classification"
	toolDocumentTypesInfo  = "get_document_types_info"
	toolListTemplates      = "list_all_templates"

	recentDocumentsLimit  = 5
	classificationResults = 20
)

// ToolRepository answers the planner's administrative lookups from the
// relational store.
type ToolRepository struct {
	db *sql.DB
}

func NewToolRepository(db *sql.DB) *ToolRepository {
	return &ToolRepository{db: db}
}

func (r *ToolRepository) Tools() []domain.ToolSpec {
	templateParam := map[string]any{
		"type":        "integer",
		"description": "classification template id",
	}
	return []domain.ToolSpec{
		{
			Name:        toolTemplateStatistics,
			Description: "Document counts of a template: totals, class code and document type distributions, most recent uploads.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"template_id": templateParam},
				"required":   []string{"template_id"},
			},
			ScopeArgument: "template_id",
		},
		{
			Name:        toolSearchByClass,
			Description: "Latest documents of a template, optionally filtered by a class code fragment.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"template_id": templateParam,
					"class_code": map[string]any{
						"type":        "string",
						"description": "class code fragment, e.g. 2023-FIN",
					},
				},
				"required": []string{"template_id"},
			},
			ScopeArgument: "template_id",
		},
		{
			Name:        toolDocumentTypesInfo,
			Description: "Active document types defined for a template.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"template_id": templateParam},
				"required":   []string{"template_id"},
			},
			ScopeArgument: "template_id",
		},
		{
			Name:        toolListTemplates,
			Description: "All active classification templates with their document counts.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// Execute runs one tool. Lookup failures are reported inside the result with
// success=false; only unknown tools and malformed arguments return an error.
func (r *ToolRepository) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case toolTemplateStatistics:
		id, err := templateIDArg(args)
		if err != nil {
			return nil, err
		}
		return toolResult(r.templateStatistics(ctx, id))
	case toolSearchByClass:
		id, err := templateIDArg(args)
		if err != nil {
			return nil, err
		}
		classCode, _ := args["class_code"].(string)
		return toolResult(r.searchByClassification(ctx, id, strings.TrimSpace(classCode)))
	case toolDocumentTypesInfo:
		id, err := templateIDArg(args)
		if err != nil {
			return nil, err
		}
		return toolResult(r.documentTypesInfo(ctx, id))
	case toolListTemplates:
		return toolResult(r.listTemplates(ctx))
	default:
		return nil, domain.WrapError(domain.ErrUnknownTool, "execute tool", fmt.Errorf("%q", name))
	}
}

func toolResult(result map[string]any, err error) (map[string]any, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	result["success"] = true
	return result, nil
}

func (r *ToolRepository) templateStatistics(ctx context.Context, templateID int64) (map[string]any, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM class_templates WHERE id = $1`, templateID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("template %d not found", templateID)
		}
		return nil, fmt.Errorf("get template name: %w", err)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM template_document_mappings WHERE template_id = $1
`, templateID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count template documents: %w", err)
	}

	classRows, err := r.db.QueryContext(ctx, `
SELECT class_code, COUNT(*)
FROM template_document_mappings
WHERE template_id = $1
GROUP BY class_code
ORDER BY COUNT(*) DESC, class_code
`, templateID)
	if err != nil {
		return nil, fmt.Errorf("class code distribution: %w", err)
	}
	classes, err := collectRows(classRows, func(rows *sql.Rows) (map[string]any, error) {
		var code sql.NullString
		var count int64
		if err := rows.Scan(&code, &count); err != nil {
			return nil, err
		}
		return map[string]any{"class_code": code.String, "count": count}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("class code distribution: %w", err)
	}

	typeRows, err := r.db.QueryContext(ctx, `
SELECT dt.type_name, dt.type_code, COUNT(m.document_id)
FROM document_types dt
LEFT JOIN template_document_mappings m
	ON m.template_id = dt.template_id AND m.class_code LIKE '%' || dt.type_code || '%'
WHERE dt.template_id = $1 AND dt.is_active
GROUP BY dt.type_name, dt.type_code
ORDER BY COUNT(m.document_id) DESC, dt.type_code
`, templateID)
	if err != nil {
		return nil, fmt.Errorf("document type distribution: %w", err)
	}
	types, err := collectRows(typeRows, func(rows *sql.Rows) (map[string]any, error) {
		var typeName, typeCode string
		var count int64
		if err := rows.Scan(&typeName, &typeCode, &count); err != nil {
			return nil, err
		}
		return map[string]any{"type_name": typeName, "type_code": typeCode, "count": count}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("document type distribution: %w", err)
	}

	recentRows, err := r.db.QueryContext(ctx, `
SELECT d.id, d.title, d.upload_time
FROM documents d
JOIN template_document_mappings m ON m.document_id = d.id
WHERE m.template_id = $1
ORDER BY d.upload_time DESC, d.id
LIMIT $2
`, templateID, recentDocumentsLimit)
	if err != nil {
		return nil, fmt.Errorf("recent documents: %w", err)
	}
	recent, err := collectRows(recentRows, func(rows *sql.Rows) (map[string]any, error) {
		var id int64
		var title string
		var uploaded time.Time
		if err := rows.Scan(&id, &title, &uploaded); err != nil {
			return nil, err
		}
		return map[string]any{"document_id": id, "title": title, "upload_time": uploaded.UTC().Format(time.RFC3339)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recent documents: %w", err)
	}

	return map[string]any{
		"template_id":                templateID,
		"template_name":              name,
		"total_documents":            total,
		"class_code_distribution":    classes,
		"document_type_distribution": types,
		"recent_documents":           recent,
	}, nil
}

func (r *ToolRepository) searchByClassification(ctx context.Context, templateID int64, classCode string) (map[string]any, error) {
	query := `
SELECT d.id, d.title, COALESCE(d.original_filename, ''), COALESCE(m.class_code, ''), d.upload_time
FROM documents d
JOIN template_document_mappings m ON m.document_id = d.id
WHERE m.template_id = $1`
	args := []any{templateID}
	if classCode != "" {
		args = append(args, "%"+escapeLike(classCode)+"%")
		query += ` AND m.class_code LIKE $2 ESCAPE '\'`
	}
	args = append(args, classificationResults)
	query += fmt.Sprintf(`
ORDER BY d.upload_time DESC, d.id
LIMIT $%d
`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search by classification: %w", err)
	}
	docs, err := collectRows(rows, func(rows *sql.Rows) (map[string]any, error) {
		var id int64
		var title, filename, code string
		var uploaded time.Time
		if err := rows.Scan(&id, &title, &filename, &code, &uploaded); err != nil {
			return nil, err
		}
		return map[string]any{
			"document_id": id,
			"title":       title,
			"filename":    filename,
			"class_code":  code,
			"upload_time": uploaded.UTC().Format(time.RFC3339),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("search by classification: %w", err)
	}
	return map[string]any{
		"template_id": templateID,
		"class_code":  classCode,
		"documents":   docs,
		"total_found": len(docs),
	}, nil
}

func (r *ToolRepository) documentTypesInfo(ctx context.Context, templateID int64) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT dt.type_code, dt.type_name, COALESCE(dt.description, ''), COALESCE(f.field_name, ''), COALESCE(f.field_type, '')
FROM document_types dt
LEFT JOIN document_type_fields f ON f.doc_type_id = dt.id
WHERE dt.template_id = $1 AND dt.is_active
ORDER BY dt.type_code, f.id
`, templateID)
	if err != nil {
		return nil, fmt.Errorf("document types: %w", err)
	}
	defer rows.Close()

	types := make([]map[string]any, 0)
	byCode := make(map[string]map[string]any)
	for rows.Next() {
		var code, name, description, fieldName, fieldType string
		if err := rows.Scan(&code, &name, &description, &fieldName, &fieldType); err != nil {
			return nil, fmt.Errorf("scan document type: %w", err)
		}
		item, ok := byCode[code]
		if !ok {
			item = map[string]any{
				"type_code":   code,
				"type_name":   name,
				"description": description,
				"fields":      []map[string]any{},
			}
			byCode[code] = item
			types = append(types, item)
		}
		if fieldName != "" {
			item["fields"] = append(item["fields"].([]map[string]any), map[string]any{
				"field_name": fieldName,
				"field_type": fieldType,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document types: %w", err)
	}
	return map[string]any{
		"template_id":    templateID,
		"document_types": types,
		"total_types":    len(types),
	}, nil
}

func (r *ToolRepository) listTemplates(ctx context.Context) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT t.id, t.name, COALESCE(t.description, ''), COALESCE(t.version, ''), COUNT(m.document_id)
FROM class_templates t
LEFT JOIN template_document_mappings m ON m.template_id = t.id
WHERE t.is_active
GROUP BY t.id, t.name, t.description, t.version
ORDER BY t.id
`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	templates, err := collectRows(rows, func(rows *sql.Rows) (map[string]any, error) {
		var id, count int64
		var name, description, version string
		if err := rows.Scan(&id, &name, &description, &version, &count); err != nil {
			return nil, err
		}
		return map[string]any{
			"template_id":    id,
			"template_name":  name,
			"description":    description,
			"version":        version,
			"document_count": count,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return map[string]any{
		"templates":       templates,
		"total_templates": len(templates),
	}, nil
}

func collectRows(rows *sql.Rows, scan func(*sql.Rows) (map[string]any, error)) ([]map[string]any, error) {
	defer rows.Close()
	out := make([]map[string]any, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// templateIDArg accepts the numeric forms a decoded plan or the scope
// injection can produce.
func templateIDArg(args map[string]any) (int64, error) {
	raw, ok := args["template_id"]
	if !ok {
		return 0, domain.WrapError(domain.ErrInvalidInput, "tool arguments", errors.New("template_id is required"))
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			break
		}
		return int64(v), nil
	case string:
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, domain.WrapError(domain.ErrInvalidInput, "tool arguments", fmt.Errorf("template_id %v is not an integer", raw))
}
