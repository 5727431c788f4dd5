package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// GetErrorMessages flattens the errors into "field: message" strings.
func (r *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return messages
}

// Validator is a compiled JSON schema for job variables.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles a schema decoded from JSON (e.g. a registry entry).
func NewValidator(schema map[string]interface{}) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// NewValidatorFromJSON compiles a schema given as JSON text.
func NewValidatorFromJSON(schema string) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustValidator is NewValidatorFromJSON for package-level schemas.
func MustValidator(schema string) *Validator {
	v, err := NewValidatorFromJSON(schema)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Validator) ValidateInput(input map[string]interface{}) *ValidationResult {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return &ValidationResult{
			Errors: []ValidationError{{Field: "(root)", Message: err.Error(), Code: "INVALID_DOCUMENT"}},
		}
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    desc.Type(),
		})
	}
	return out
}
