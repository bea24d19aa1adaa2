package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/permitapi/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

type permitModel struct {
	ID             uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	PermitNumber   string     `gorm:"column:permit_number;not null"`
	Type           string     `gorm:"column:type;not null"`
	Status         string     `gorm:"column:status;not null"`
	ApplicantName  string     `gorm:"column:applicant_name;not null"`
	ApplicantEmail string     `gorm:"column:applicant_email"`
	Location       string     `gorm:"column:location"`
	PositionJSON   *string    `gorm:"column:position_json"`
	Description    string     `gorm:"column:description"`
	ValidFrom      *time.Time `gorm:"column:valid_from"`
	ValidUntil     *time.Time `gorm:"column:valid_until"`
	TagsJSON       *string    `gorm:"column:tags_json"`
	Notes          string     `gorm:"column:notes"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;not null"`
}

func (permitModel) TableName() string {
	return "permits"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

// PermitStore persists permits and, inside the same transaction, the
// outbox event announcing the mutation. Either both rows land or neither.
type PermitStore struct {
	db *gormsqlite.DB
}

func NewPermitStore(db *gormsqlite.DB) *PermitStore {
	return &PermitStore{db: db}
}

func (s *PermitStore) Create(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error) {
	meta = meta.Normalize()
	now := meta.OccurredAt.UTC()

	model, err := toPermitModel(permit)
	if err != nil {
		return domain.Permit{}, err
	}
	model.ID = 0
	model.CreatedAt = now
	model.UpdatedAt = now

	var result domain.Permit
	err = s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert permit: %w", err)
		}
		saved, err := toPermitDomain(model)
		if err != nil {
			return err
		}
		if err := insertOutbox(tx, saved, "permit.created", meta); err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return domain.Permit{}, err
	}
	return result, nil
}

func (s *PermitStore) Update(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error) {
	meta = meta.Normalize()
	now := meta.OccurredAt.UTC()

	var result domain.Permit
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var existing permitModel
		if err := tx.Where("id = ?", permit.ID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("load permit: %w", err)
		}

		model, err := toPermitModel(permit)
		if err != nil {
			return err
		}
		model.ID = existing.ID
		model.PermitNumber = existing.PermitNumber
		model.CreatedAt = existing.CreatedAt
		model.UpdatedAt = now

		if err := tx.Model(&permitModel{}).Where("id = ?", model.ID).Select("*").Omit("id", "created_at").Updates(&model).Error; err != nil {
			return fmt.Errorf("update permit: %w", err)
		}

		saved, err := toPermitDomain(model)
		if err != nil {
			return err
		}
		if err := insertOutbox(tx, saved, "permit.updated", meta); err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return domain.Permit{}, err
	}
	return result, nil
}

func (s *PermitStore) Delete(ctx context.Context, id uint64, meta domain.MutationMetadata) (bool, error) {
	meta = meta.Normalize()
	deleted := false

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var existing permitModel
		if err := tx.Where("id = ?", id).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("load permit before delete: %w", err)
		}

		if err := tx.Where("id = ?", id).Delete(&permitModel{}).Error; err != nil {
			return fmt.Errorf("delete permit: %w", err)
		}
		deleted = true

		removed, err := toPermitDomain(existing)
		if err != nil {
			return err
		}
		return insertOutbox(tx, removed, "permit.deleted", meta)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *PermitStore) Get(ctx context.Context, id uint64) (domain.Permit, error) {
	var model permitModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Permit{}, domain.ErrNotFound
		}
		return domain.Permit{}, fmt.Errorf("get permit: %w", err)
	}
	return toPermitDomain(model)
}

func (s *PermitStore) GetByNumber(ctx context.Context, permitNumber string) (domain.Permit, error) {
	var model permitModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("permit_number = ?", permitNumber).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Permit{}, domain.ErrNotFound
		}
		return domain.Permit{}, fmt.Errorf("get permit by number: %w", err)
	}
	return toPermitDomain(model)
}

func (s *PermitStore) List(ctx context.Context, filter domain.PermitListFilter) ([]domain.Permit, error) {
	var models []permitModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&permitModel{})
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Type != "" {
			query = query.Where("type = ?", filter.Type)
		}
		query = query.Order("id DESC")
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
		return query.Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list permits: %w", err)
	}

	result := make([]domain.Permit, 0, len(models))
	for _, model := range models {
		permit, err := toPermitDomain(model)
		if err != nil {
			return nil, err
		}
		result = append(result, permit)
	}
	return result, nil
}

func insertOutbox(tx *gormsqlite.Tx, permit domain.Permit, eventType string, meta domain.MutationMetadata) error {
	occurredAt := meta.OccurredAt.UTC()
	payload, err := json.Marshal(map[string]any{
		"permit_id":     permit.ID,
		"permit_number": permit.PermitNumber,
		"type":          permit.Type,
		"status":        permit.Status,
	})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	envelope := domain.EventEnvelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		PermitID:     permit.ID,
		PermitNumber: permit.PermitNumber,
		OccurredAt:   occurredAt,
		Actor:        meta.Actor,
		Source:       meta.Source,
		RequestID:    meta.RequestID,
		Payload:      payload,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	outbox := outboxEventModel{
		EventID:       envelope.EventID,
		Topic:         "permits." + eventType,
		PayloadJSON:   string(encoded),
		Status:        "pending",
		Attempts:      0,
		NextAttemptAt: occurredAt,
		LastError:     "",
		CreatedAt:     occurredAt,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func toPermitModel(permit domain.Permit) (permitModel, error) {
	model := permitModel{
		ID:             permit.ID,
		PermitNumber:   permit.PermitNumber,
		Type:           permit.Type,
		Status:         permit.Status,
		ApplicantName:  permit.ApplicantName,
		ApplicantEmail: permit.ApplicantEmail,
		Location:       permit.Location,
		Description:    permit.Description,
		ValidFrom:      permit.ValidFrom,
		ValidUntil:     permit.ValidUntil,
		Notes:          permit.Notes,
		CreatedAt:      permit.CreatedAt,
		UpdatedAt:      permit.UpdatedAt,
	}
	if permit.Position != nil {
		encoded, err := json.Marshal(permit.Position)
		if err != nil {
			return permitModel{}, fmt.Errorf("marshal position: %w", err)
		}
		s := string(encoded)
		model.PositionJSON = &s
	}
	if permit.Tags != nil {
		encoded, err := json.Marshal(permit.Tags)
		if err != nil {
			return permitModel{}, fmt.Errorf("marshal tags: %w", err)
		}
		s := string(encoded)
		model.TagsJSON = &s
	}
	return model, nil
}

func toPermitDomain(model permitModel) (domain.Permit, error) {
	permit := domain.Permit{
		ID:             model.ID,
		PermitNumber:   model.PermitNumber,
		Type:           model.Type,
		Status:         model.Status,
		ApplicantName:  model.ApplicantName,
		ApplicantEmail: model.ApplicantEmail,
		Location:       model.Location,
		Description:    model.Description,
		ValidFrom:      model.ValidFrom,
		ValidUntil:     model.ValidUntil,
		Notes:          model.Notes,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
	if model.PositionJSON != nil && *model.PositionJSON != "" {
		var position domain.MapPosition
		if err := json.Unmarshal([]byte(*model.PositionJSON), &position); err != nil {
			return domain.Permit{}, fmt.Errorf("unmarshal position for permit %d: %w", model.ID, err)
		}
		permit.Position = &position
	}
	if model.TagsJSON != nil && *model.TagsJSON != "" {
		if err := json.Unmarshal([]byte(*model.TagsJSON), &permit.Tags); err != nil {
			return domain.Permit{}, fmt.Errorf("unmarshal tags for permit %d: %w", model.ID, err)
		}
	}
	return permit, nil
}
