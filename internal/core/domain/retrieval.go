package domain

import "strings"

// UnknownValue marks a field the model could not determine. It is never an
// empty value.
const UnknownValue = "UNKNOWN"

// WildcardCategory means no document-type category was identified.
const WildcardCategory = "*"

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldNumber   FieldType = "number"
	FieldInteger  FieldType = "integer"
	FieldFloat    FieldType = "float"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
	FieldKeyword  FieldType = "keyword"
)

// IsFreeText reports whether values of this type are matched fuzzily.
func (t FieldType) IsFreeText() bool {
	switch FieldType(strings.ToLower(string(t))) {
	case FieldText, FieldTextarea, "":
		return true
	default:
		return false
	}
}

func (t FieldType) IsNumeric() bool {
	switch FieldType(strings.ToLower(string(t))) {
	case FieldNumber, FieldInteger, FieldFloat:
		return true
	default:
		return false
	}
}

func (t FieldType) IsDate() bool {
	switch FieldType(strings.ToLower(string(t))) {
	case FieldDate, FieldDatetime:
		return true
	default:
		return false
	}
}

type FieldCondition struct {
	FieldName string    `json:"field_name"`
	FieldType FieldType `json:"field_type"`
	Value     string    `json:"value"`
}

// Determinable reports whether the condition carries a usable value.
func (c FieldCondition) Determinable() bool {
	v := strings.TrimSpace(c.Value)
	return v != "" && !strings.EqualFold(v, UnknownValue)
}

// FieldHint is one template-level value extracted from the query.
type FieldHint struct {
	Values []string `json:"values"`
	Level  int      `json:"level,omitempty"`
}

type FusionStrategy string

const (
	FusionNone           FusionStrategy = "none"
	FusionFullTextOnly   FusionStrategy = "es_only"
	FusionStructuredOnly FusionStrategy = "sql_only"
	FusionIntersection   FusionStrategy = "intersection"
	FusionFullTextFirst  FusionStrategy = "es_primary"
	FusionUnion          FusionStrategy = "union"
)

type FusionResult struct {
	DocumentIDs []int64        `json:"document_ids"`
	Strategy    FusionStrategy `json:"strategy"`
}

// SearchRequest is the full-text collaborator query contract. Text drives a
// title-boosted match; Conditions drive per-field clauses; RestrictIDs limits
// hits to a known candidate set.
type SearchRequest struct {
	Text        string
	ScopeID     int64
	RestrictIDs []int64
	Conditions  []FieldCondition
	Size        int
}
