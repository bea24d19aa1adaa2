package usecase

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

// TrackedFields is the explicit allow-list of permit fields that generate
// audit entries. Internal and schema fields are excluded by omission: only
// what appears here is ever diffed, and changes are reported in this order.
var TrackedFields = []string{
	"applicant_name",
	"applicant_email",
	"type",
	"status",
	"location",
	"position",
	"description",
	"valid_from",
	"valid_until",
	"tags",
	"notes",
}

// DetectChanges compares two permit snapshots field by field over
// TrackedFields. A nil original yields no changes; creation is recorded
// through its own path, not by diffing against an empty permit.
func DetectChanges(original, updated *domain.Permit) []domain.FieldChange {
	if original == nil {
		return nil
	}

	changes := make([]domain.FieldChange, 0)
	for _, field := range TrackedFields {
		oldValue := trackedValue(original, field)
		newValue := trackedValue(updated, field)
		if valuesEqual(oldValue, newValue) {
			continue
		}
		changes = append(changes, domain.FieldChange{
			Field:    field,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}
	return changes
}

func trackedValue(p *domain.Permit, field string) any {
	switch field {
	case "applicant_name":
		return p.ApplicantName
	case "applicant_email":
		return p.ApplicantEmail
	case "type":
		return p.Type
	case "status":
		return p.Status
	case "location":
		return p.Location
	case "position":
		return p.Position
	case "description":
		return p.Description
	case "valid_from":
		return p.ValidFrom
	case "valid_until":
		return p.ValidUntil
	case "tags":
		return p.Tags
	case "notes":
		return p.Notes
	default:
		return nil
	}
}

// valuesEqual applies the type-dispatched equality rule: nil and "" count
// as the same "no value", slices and structured values compare by their
// canonical JSON form (order-sensitive for slices), times compare by
// instant, everything else by strict value equality.
func valuesEqual(a, b any) bool {
	a = unwrap(a)
	b = unwrap(b)

	if a == nil && b == nil {
		return true
	}
	if (a == nil && isEmptyString(b)) || (b == nil && isEmptyString(a)) {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []string:
		bv, ok := b.([]string)
		return ok && canonicalJSON(av) == canonicalJSON(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case domain.MapPosition:
		bv, ok := b.(domain.MapPosition)
		return ok && canonicalJSON(av) == canonicalJSON(bv)
	default:
		return a == b
	}
}

// unwrap collapses typed nil pointers and empty slices into plain nil so
// the equality and formatting rules see "absent" uniformly.
func unwrap(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case *domain.MapPosition:
		if t == nil {
			return nil
		}
		return *t
	case []string:
		if t == nil {
			return nil
		}
		return t
	default:
		return v
	}
}

func isEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && s == ""
}

// FormatValue normalizes a tracked field value into its storage
// representation: nil stays nil, strings pass through, times become
// RFC3339, structured values become canonical JSON, everything else is
// string-coerced.
func FormatValue(v any) *string {
	v = unwrap(v)
	if v == nil {
		return nil
	}

	var s string
	switch t := v.(type) {
	case string:
		s = t
	case time.Time:
		s = t.UTC().Format(time.RFC3339)
	case []string:
		s = canonicalJSON(t)
	case domain.MapPosition:
		s = canonicalJSON(t)
	default:
		s = fmt.Sprint(t)
	}
	return &s
}

func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
