package usecase

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPermitValidatorAcceptsValidPayload(t *testing.T) {
	v, err := NewPermitValidator()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	payload := json.RawMessage(`{
		"type": "construction",
		"applicant_name": "Jonas Petraitis",
		"location": "Gedimino pr. 1",
		"position": {"lat": 54.687, "lng": 25.279},
		"tags": ["roadwork"]
	}`)
	if err := v.Validate(payload); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
}

func TestPermitValidatorRejectsMissingRequired(t *testing.T) {
	v, err := NewPermitValidator()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	var violation *ErrPayloadViolation
	err = v.Validate(json.RawMessage(`{"type": "construction"}`))
	if !errors.As(err, &violation) {
		t.Fatalf("expected payload violation, got %v", err)
	}
	if len(violation.Errors) == 0 {
		t.Fatal("expected at least one violation message")
	}
}

func TestPermitValidatorRejectsUnknownType(t *testing.T) {
	v, err := NewPermitValidator()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	var violation *ErrPayloadViolation
	err = v.Validate(json.RawMessage(`{"type": "spaceport", "applicant_name": "Jonas"}`))
	if !errors.As(err, &violation) {
		t.Fatalf("expected payload violation, got %v", err)
	}
}

func TestPermitValidatorRejectsOutOfRangePosition(t *testing.T) {
	v, err := NewPermitValidator()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	var violation *ErrPayloadViolation
	err = v.Validate(json.RawMessage(`{
		"type": "event",
		"applicant_name": "Jonas",
		"position": {"lat": 123.0, "lng": 25.0}
	}`))
	if !errors.As(err, &violation) {
		t.Fatalf("expected payload violation, got %v", err)
	}
}

func TestPermitValidatorRejectsUnknownProperties(t *testing.T) {
	v, err := NewPermitValidator()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	var violation *ErrPayloadViolation
	err = v.Validate(json.RawMessage(`{"type": "event", "applicant_name": "Jonas", "surprise": true}`))
	if !errors.As(err, &violation) {
		t.Fatalf("expected payload violation, got %v", err)
	}
}
