// Package llm adapts language-model backends to question and root-cause generation.
package llm

import (
	"context"
	"errors"
)

// ErrStructuredOutput marks a provider rejection of the structured-output
// request (for example a "tool_use_failed" reply). Callers retry in plain text.
var ErrStructuredOutput = errors.New("structured output unsupported for this response")

// FieldType is the JSON type of a schema field.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldStringArray FieldType = "string_array"
)

// Field is one required property of a structured response.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Schema describes the expected shape of a structured response.
type Schema struct {
	Name   string
	Fields []Field
}

// JSONSchema renders the schema as a JSON Schema object.
func (s *Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := []string{}
	for _, f := range s.Fields {
		switch f.Type {
		case FieldStringArray:
			props[f.Name] = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
		default:
			props[f.Name] = map[string]any{"type": "string"}
		}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// QuestionSchema is the structured shape of a generated question.
var QuestionSchema = Schema{
	Name:   "question_response",
	Fields: []Field{{Name: "question", Type: FieldString, Required: true}},
}

// RootCauseSchema is the structured shape of a root-cause analysis.
var RootCauseSchema = Schema{
	Name: "root_cause_response",
	Fields: []Field{
		{Name: "summary", Type: FieldString, Required: true},
		{Name: "contributing_factors", Type: FieldStringArray},
	},
}

// Request is one call to a model backend. A nil Schema asks for plain text.
type Request struct {
	Prompt      string
	Schema      *Schema
	Temperature float64
	TopP        float64
}

// Result is a backend reply. Output holds the decoded payload: a string for
// plain text or a map for structured output. Attrs holds textual attributes
// the backend reported alongside, such as "content" or "output_text".
type Result struct {
	Output any
	Attrs  map[string]string
}

// Field returns a string field of a structured output.
func (r *Result) Field(name string) (string, bool) {
	m, ok := r.Output.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[name].(string)
	return v, ok
}

// Model is a language-model backend.
type Model interface {
	// Run performs one completion. It returns an error wrapping
	// ErrStructuredOutput when the provider rejects the requested schema.
	Run(ctx context.Context, req Request) (*Result, error)

	// Name identifies the backend model for logs.
	Name() string
}
