package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/permitapi/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

type auditLogModel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PermitID     uint64    `gorm:"column:permit_id;not null"`
	UserID       string    `gorm:"column:user_id;not null"`
	ActionType   string    `gorm:"column:action_type;not null"`
	FieldName    *string   `gorm:"column:field_name"`
	OldValue     *string   `gorm:"column:old_value"`
	NewValue     *string   `gorm:"column:new_value"`
	IPAddress    string    `gorm:"column:ip_address"`
	UserAgent    string    `gorm:"column:user_agent"`
	MetadataJSON string    `gorm:"column:metadata_json"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (auditLogModel) TableName() string {
	return "audit_logs"
}

// AuditLogRepository is the append-only store for audit entries. Rows are
// only ever inserted; the autoincrement id doubles as the ordering key for
// every read query (descending = most recent first).
type AuditLogRepository struct {
	db *gormsqlite.DB
}

func NewAuditLogRepository(db *gormsqlite.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Insert(ctx context.Context, entry domain.AuditEntry) error {
	metadata := "{}"
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = string(encoded)
	}

	model := auditLogModel{
		PermitID:     entry.PermitID,
		UserID:       entry.UserID,
		ActionType:   entry.ActionType,
		FieldName:    entry.FieldName,
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
		MetadataJSON: metadata,
		CreatedAt:    entry.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditLogRepository) ListByPermit(ctx context.Context, permitID uint64) ([]domain.AuditEntry, error) {
	var rows []auditLogModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&auditLogModel{}).
			Where("permit_id = ?", permitID).
			Order("id DESC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list permit audit entries: %w", err)
	}
	return toAuditEntries(rows)
}

func (r *AuditLogRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	var rows []auditLogModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&auditLogModel{})
		if filter.PermitID != 0 {
			query = query.Where("permit_id = ?", filter.PermitID)
		}
		if filter.UserID != "" {
			query = query.Where("user_id = ?", filter.UserID)
		}
		if filter.ActionType != "" {
			query = query.Where("action_type = ?", filter.ActionType)
		}
		query = query.Order("id DESC")
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
		return query.Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return toAuditEntries(rows)
}

func (r *AuditLogRepository) Stats(ctx context.Context, now time.Time, topN int) (domain.AuditStats, error) {
	if topN <= 0 {
		topN = 5
	}
	// Rows are stored in UTC; bind the boundary in UTC as well so the
	// driver's text comparison lines up regardless of process timezone.
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()

	var stats domain.AuditStats
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Model(&auditLogModel{}).Count(&stats.TotalLogs).Error; err != nil {
			return fmt.Errorf("count audit entries: %w", err)
		}
		if err := tx.Model(&auditLogModel{}).
			Where("created_at >= ?", startOfDay).
			Count(&stats.TodayLogs).Error; err != nil {
			return fmt.Errorf("count today audit entries: %w", err)
		}

		type actionRow struct {
			ActionType string `gorm:"column:action_type"`
			Total      int64  `gorm:"column:total"`
		}
		var actions []actionRow
		if err := tx.Model(&auditLogModel{}).
			Select("action_type, COUNT(*) AS total").
			Group("action_type").
			Order("total DESC").
			Limit(topN).
			Find(&actions).Error; err != nil {
			return fmt.Errorf("count actions: %w", err)
		}
		stats.RecentActions = make([]domain.ActionCount, 0, len(actions))
		for _, a := range actions {
			stats.RecentActions = append(stats.RecentActions, domain.ActionCount{ActionType: a.ActionType, Count: a.Total})
		}
		return nil
	})
	if err != nil {
		return domain.AuditStats{}, err
	}
	return stats, nil
}

func toAuditEntries(rows []auditLogModel) ([]domain.AuditEntry, error) {
	result := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]any
		if row.MetadataJSON != "" {
			if err := json.Unmarshal([]byte(row.MetadataJSON), &metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata for entry %d: %w", row.ID, err)
			}
		}
		result = append(result, domain.AuditEntry{
			ID:         row.ID,
			PermitID:   row.PermitID,
			UserID:     row.UserID,
			ActionType: row.ActionType,
			FieldName:  row.FieldName,
			OldValue:   row.OldValue,
			NewValue:   row.NewValue,
			IPAddress:  row.IPAddress,
			UserAgent:  row.UserAgent,
			Metadata:   metadata,
			CreatedAt:  row.CreatedAt,
		})
	}
	return result, nil
}
