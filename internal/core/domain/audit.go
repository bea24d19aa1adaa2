package domain

import (
	"errors"
	"time"
)

var ErrInvalidActionType = errors.New("invalid action type")

// Action types classify why an audit entry exists. The set is closed;
// consumers render the labels below.
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionStatusChange = "status_change"
	ActionApproval     = "approval"
	ActionSignature    = "signature"
)

var ActionLabels = map[string]string{
	ActionCreate:       "Created",
	ActionUpdate:       "Field updated",
	ActionDelete:       "Deleted",
	ActionStatusChange: "Status changed",
	ActionApproval:     "Approved",
	ActionSignature:    "Signed",
}

func ValidateActionType(actionType string) error {
	if _, ok := ActionLabels[actionType]; !ok {
		return ErrInvalidActionType
	}
	return nil
}

// AuditEntry is one immutable row in the permit audit trail. Entries are
// append-only: nothing in this codebase updates or deletes them.
//
// FieldName is nil exactly when ActionType is create or delete; those
// entries carry their payload as a JSON snapshot in OldValue/NewValue and
// the permit identity in Metadata.
type AuditEntry struct {
	ID         int64
	PermitID   uint64
	UserID     string
	ActionType string
	FieldName  *string
	OldValue   *string
	NewValue   *string
	IPAddress  string
	UserAgent  string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// AuditContext is the caller-supplied provenance bundle for one logical
// operation. It is fanned out across every entry that operation produces
// and is never persisted on its own.
type AuditContext struct {
	UserID     string
	ActionType string
	IPAddress  string
	UserAgent  string
	Metadata   map[string]any
}

// FieldChange is an in-memory diff produced by the change detector.
// Values keep their domain types; formatting happens at persistence time.
type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// AuditFilter combines conjunctively. StartDate/EndDate are accepted but
// not yet applied to queries; they are reserved for time-range filtering.
// Zero Limit means unbounded.
type AuditFilter struct {
	PermitID   uint64
	UserID     string
	ActionType string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

func (f AuditFilter) Validate() error {
	if f.ActionType != "" {
		if err := ValidateActionType(f.ActionType); err != nil {
			return err
		}
	}
	return nil
}

type ActionCount struct {
	ActionType string
	Count      int64
}

// AuditStats are aggregates over the full unfiltered log set.
type AuditStats struct {
	TotalLogs     int64
	TodayLogs     int64
	RecentActions []ActionCount
}
