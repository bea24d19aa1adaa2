package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed permit_schema.json
var permitSchemaJSON []byte

// ErrPayloadViolation carries the machine-readable schema failures for a
// rejected permit payload.
type ErrPayloadViolation struct {
	Errors []string
}

func (e *ErrPayloadViolation) Error() string {
	return fmt.Sprintf("permit validation failed: %s", strings.Join(e.Errors, "; "))
}

// PermitValidator checks incoming permit payloads against the embedded
// JSON Schema before they are decoded into the domain type.
type PermitValidator struct {
	schema *santhosh.Schema
}

func NewPermitValidator() (*PermitValidator, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("permit.schema.json", bytes.NewReader(permitSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add permit schema: %w", err)
	}
	schema, err := compiler.Compile("permit.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile permit schema: %w", err)
	}
	return &PermitValidator{schema: schema}, nil
}

// Validate returns *ErrPayloadViolation when data does not conform.
func (v *PermitValidator) Validate(data json.RawMessage) error {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := v.schema.Validate(payload); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &ErrPayloadViolation{Errors: collectValidationErrors(ve)}
		}
		return &ErrPayloadViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
