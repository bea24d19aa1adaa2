package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
	"github.com/atvirokodosprendimai/permitapi/internal/core/ports"
)

// statusUndefined is the sentinel an absent original permit contributes to
// the status transition string.
const statusUndefined = "undefined"

// recentActionCount caps the action breakdown in the stats view.
const recentActionCount = 5

// AuditRecorder turns permit mutations into audit entries and serves the
// read side of the trail.
//
// The write methods are best-effort: a persistence failure is logged and
// swallowed so that audit logging never aborts the permit mutation it
// accompanies. The error-returning record* methods keep that policy at a
// single discard site, so a stricter caller could be added without
// restructuring. Read methods propagate errors.
type AuditRecorder struct {
	repo ports.AuditLogRepository
	log  *logrus.Logger
}

func NewAuditRecorder(repo ports.AuditLogRepository, log *logrus.Logger) *AuditRecorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuditRecorder{repo: repo, log: log}
}

// LogPermitChanges diffs original against updated and writes one entry per
// changed tracked field, plus a synthetic status_change entry whenever the
// status differs (an absent original counts as status "undefined").
func (r *AuditRecorder) LogPermitChanges(ctx context.Context, original, updated *domain.Permit, actx domain.AuditContext) {
	if err := r.recordChanges(ctx, original, updated, actx); err != nil {
		r.log.WithFields(logrus.Fields{
			"permit_id":   updated.ID,
			"user_id":     actx.UserID,
			"action_type": actx.ActionType,
			"error":       err.Error(),
		}).Warn("audit write failed")
	}
}

// LogPermitCreation writes the single create marker for a new permit.
func (r *AuditRecorder) LogPermitCreation(ctx context.Context, permit *domain.Permit, actx domain.AuditContext) {
	if err := r.recordSnapshot(ctx, permit, actx, domain.ActionCreate); err != nil {
		r.log.WithFields(logrus.Fields{
			"permit_id":   permit.ID,
			"user_id":     actx.UserID,
			"action_type": domain.ActionCreate,
			"error":       err.Error(),
		}).Warn("audit write failed")
	}
}

// LogPermitDeletion writes the single delete marker for a removed permit.
func (r *AuditRecorder) LogPermitDeletion(ctx context.Context, permit *domain.Permit, actx domain.AuditContext) {
	if err := r.recordSnapshot(ctx, permit, actx, domain.ActionDelete); err != nil {
		r.log.WithFields(logrus.Fields{
			"permit_id":   permit.ID,
			"user_id":     actx.UserID,
			"action_type": domain.ActionDelete,
			"error":       err.Error(),
		}).Warn("audit write failed")
	}
}

func (r *AuditRecorder) recordChanges(ctx context.Context, original, updated *domain.Permit, actx domain.AuditContext) error {
	actionType := actx.ActionType
	if actionType == "" {
		actionType = domain.ActionUpdate
	}
	if err := domain.ValidateActionType(actionType); err != nil {
		return err
	}

	for _, change := range DetectChanges(original, updated) {
		field := change.Field
		entry := domain.AuditEntry{
			PermitID:   updated.ID,
			UserID:     actx.UserID,
			ActionType: actionType,
			FieldName:  &field,
			OldValue:   FormatValue(change.OldValue),
			NewValue:   FormatValue(change.NewValue),
			IPAddress:  actx.IPAddress,
			UserAgent:  actx.UserAgent,
			Metadata:   r.baseMetadata(updated, actx),
		}
		if err := r.repo.Insert(ctx, entry); err != nil {
			return fmt.Errorf("insert %s change: %w", field, err)
		}
	}

	oldStatus := statusUndefined
	if original != nil {
		oldStatus = original.Status
	}
	if oldStatus != updated.Status {
		field := "status"
		newStatus := updated.Status
		meta := r.baseMetadata(updated, actx)
		meta["status_transition"] = oldStatus + " -> " + newStatus
		entry := domain.AuditEntry{
			PermitID:   updated.ID,
			UserID:     actx.UserID,
			ActionType: domain.ActionStatusChange,
			FieldName:  &field,
			OldValue:   &oldStatus,
			NewValue:   &newStatus,
			IPAddress:  actx.IPAddress,
			UserAgent:  actx.UserAgent,
			Metadata:   meta,
		}
		if err := r.repo.Insert(ctx, entry); err != nil {
			return fmt.Errorf("insert status change: %w", err)
		}
	}
	return nil
}

func (r *AuditRecorder) recordSnapshot(ctx context.Context, permit *domain.Permit, actx domain.AuditContext, actionType string) error {
	snapshot := canonicalJSON(map[string]any{
		"permit_number": permit.PermitNumber,
		"type":          permit.Type,
		"status":        permit.Status,
	})

	entry := domain.AuditEntry{
		PermitID:   permit.ID,
		UserID:     actx.UserID,
		ActionType: actionType,
		IPAddress:  actx.IPAddress,
		UserAgent:  actx.UserAgent,
		Metadata:   r.baseMetadata(permit, actx),
	}
	switch actionType {
	case domain.ActionCreate:
		entry.NewValue = &snapshot
	case domain.ActionDelete:
		entry.OldValue = &snapshot
	default:
		return domain.ErrInvalidActionType
	}

	if err := r.repo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert %s marker: %w", actionType, err)
	}
	return nil
}

// baseMetadata merges caller metadata with the guaranteed keys every entry
// carries: permit_number, permit_type and an ISO timestamp.
func (r *AuditRecorder) baseMetadata(permit *domain.Permit, actx domain.AuditContext) map[string]any {
	meta := make(map[string]any, len(actx.Metadata)+3)
	for k, v := range actx.Metadata {
		meta[k] = v
	}
	meta["permit_number"] = permit.PermitNumber
	meta["permit_type"] = permit.Type
	meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return meta
}

// GetPermitAuditLogs returns the full history of one permit, most recent
// first. Per-permit volume is naturally bounded, so no pagination.
func (r *AuditRecorder) GetPermitAuditLogs(ctx context.Context, permitID uint64) ([]domain.AuditEntry, error) {
	return r.repo.ListByPermit(ctx, permitID)
}

// GetAllAuditLogs serves the filtered global view, most recent first.
func (r *AuditRecorder) GetAllAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return r.repo.List(ctx, filter)
}

// GetAuditStats aggregates over the unfiltered log set.
func (r *AuditRecorder) GetAuditStats(ctx context.Context) (domain.AuditStats, error) {
	return r.repo.Stats(ctx, time.Now(), recentActionCount)
}
