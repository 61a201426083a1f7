package httpadapter

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

//go:embed openapi.yaml
var openAPIDocument []byte

const maxRequestBodyBytes = 1 << 20

type requestValidator struct {
	schemas map[string]*openapi3.Schema
}

func newRequestValidator() (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}

	schemas := make(map[string]*openapi3.Schema, len(doc.Components.Schemas))
	for name, ref := range doc.Components.Schemas {
		if ref != nil && ref.Value != nil {
			schemas[name] = ref.Value
		}
	}
	return &requestValidator{schemas: schemas}, nil
}

// decode reads a JSON body, checks it against the named schema and decodes
// it into dst.
func (v *requestValidator) decode(r *http.Request, schemaName string, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "read request body", err)
	}
	if len(body) > maxRequestBodyBytes {
		return domain.WrapError(domain.ErrInvalidInput, "read request body", errors.New("request body too large"))
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request body", errors.New("invalid json"))
	}
	schema, ok := v.schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown request schema %q", schemaName)
	}
	if err := schema.VisitJSON(generic, openapi3.MultiErrors()); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate "+schemaName, err)
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode "+schemaName, err)
	}
	return nil
}
