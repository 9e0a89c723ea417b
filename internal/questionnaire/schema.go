// Package questionnaire validates questionnaire definitions before the sync
// layer lets a message reference them. The structure itself is rendered
// elsewhere; only well-formedness is checked here.
package questionnaire

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "title", "questions"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type", "prompt"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["text", "single_choice", "rating", "yes_no"]},
          "prompt": {"type": "string", "minLength": 1},
          "required": {"type": "boolean"},
          "options": {"type": "array", "items": {"type": "string"}},
          "rating_scale": {"type": "integer", "minimum": 2, "maximum": 10}
        },
        "allOf": [
          {
            "if": {"properties": {"type": {"const": "single_choice"}}},
            "then": {"required": ["options"], "properties": {"options": {"minItems": 2}}}
          },
          {
            "if": {"properties": {"type": {"const": "rating"}}},
            "then": {"required": ["rating_scale"]}
          }
        ]
      }
    }
  }
}`

// Validator checks raw questionnaire payloads against the embedded schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the questionnaire schema once.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("questionnaire.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to register questionnaire schema: %w", err)
	}

	schema, err := compiler.Compile("questionnaire.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile questionnaire schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks one decoded questionnaire document.
func (v *Validator) Validate(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("questionnaire payload invalid: %w", err)
	}
	return nil
}
