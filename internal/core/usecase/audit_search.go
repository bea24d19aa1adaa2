package usecase

import (
	"strings"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

// FilterAuditEntries narrows an already-fetched page by case-insensitive
// substring match across permit number, user, field name and both values.
// It is a display convenience for the review UI, not a source-of-truth
// filter, and deliberately leaves totals and stats untouched.
func FilterAuditEntries(entries []domain.AuditEntry, query string) []domain.AuditEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return entries
	}

	matched := make([]domain.AuditEntry, 0, len(entries))
	for _, entry := range entries {
		if entryMatches(entry, query) {
			matched = append(matched, entry)
		}
	}
	return matched
}

func entryMatches(entry domain.AuditEntry, query string) bool {
	if number, ok := entry.Metadata["permit_number"].(string); ok {
		if strings.Contains(strings.ToLower(number), query) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(entry.UserID), query) {
		return true
	}
	for _, v := range []*string{entry.FieldName, entry.OldValue, entry.NewValue} {
		if v != nil && strings.Contains(strings.ToLower(*v), query) {
			return true
		}
	}
	return false
}
