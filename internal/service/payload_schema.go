package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/concretepros/directory-api/internal/model"
)

// enrichmentPayloadSchema returns the JSON schema shared by the enrichment job types
func enrichmentPayloadSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"contractorIds": map[string]any{
				"type":        "array",
				"maxItems":    5000,
				"uniqueItems": true,
				"items":       map[string]any{"type": "string", "minLength": 1},
			},
			"citySlug": map[string]any{"type": "string", "pattern": `^[a-z0-9]+(-[a-z0-9]+)*$`},
			"limit":    map[string]any{"type": "integer", "minimum": 1, "maximum": 5000},
			"force":    map[string]any{"type": "boolean"},
		},
	}
}

// PayloadValidator checks job payloads against a per-type JSON schema
type PayloadValidator struct {
	schemas map[model.JobType]*jsonschema.Schema
}

// NewPayloadValidator compiles the schema of every job type
func NewPayloadValidator() (*PayloadValidator, error) {
	v := &PayloadValidator{schemas: make(map[model.JobType]*jsonschema.Schema)}
	for _, jt := range model.ValidJobTypes {
		sch, err := compileSchema(string(jt)+".json", enrichmentPayloadSchema())
		if err != nil {
			return nil, fmt.Errorf("compile %s payload schema: %w", jt, err)
		}
		v.schemas[jt] = sch
	}
	return v, nil
}

// Validate returns ErrInvalidPayload wrapping the schema error when payload does not match.
// An empty payload is treated as an empty object.
func (v *PayloadValidator) Validate(jobType model.JobType, payload []byte) error {
	sch, ok := v.schemas[jobType]
	if !ok {
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidPayload, jobType)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}
