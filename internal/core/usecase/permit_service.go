package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
	"github.com/atvirokodosprendimai/permitapi/internal/core/ports"
)

// PermitService is the primary write path. Every mutation persists the
// permit (with its outbox event) first, then hands the before/after
// snapshots to the audit recorder. Audit failures never surface here.
type PermitService struct {
	store ports.PermitStore
	audit *AuditRecorder
}

func NewPermitService(store ports.PermitStore, audit *AuditRecorder) *PermitService {
	return &PermitService{store: store, audit: audit}
}

func (s *PermitService) Create(ctx context.Context, permit domain.Permit, actx domain.AuditContext, meta domain.MutationMetadata) (domain.Permit, error) {
	if permit.Status == "" {
		permit.Status = domain.StatusPending
	}
	if strings.TrimSpace(permit.PermitNumber) == "" {
		permit.PermitNumber = NewPermitNumber()
	}
	if err := permit.Validate(); err != nil {
		return domain.Permit{}, err
	}

	created, err := s.store.Create(ctx, permit, meta)
	if err != nil {
		return domain.Permit{}, err
	}

	actx.ActionType = domain.ActionCreate
	s.audit.LogPermitCreation(ctx, &created, actx)
	return created, nil
}

func (s *PermitService) Get(ctx context.Context, id uint64) (domain.Permit, error) {
	return s.store.Get(ctx, id)
}

func (s *PermitService) GetByNumber(ctx context.Context, permitNumber string) (domain.Permit, error) {
	if strings.TrimSpace(permitNumber) == "" {
		return domain.Permit{}, domain.ErrInvalidPermit
	}
	return s.store.GetByNumber(ctx, permitNumber)
}

func (s *PermitService) List(ctx context.Context, filter domain.PermitListFilter) ([]domain.Permit, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.store.List(ctx, filter)
}

func (s *PermitService) Update(ctx context.Context, id uint64, updated domain.Permit, actx domain.AuditContext, meta domain.MutationMetadata) (domain.Permit, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Permit{}, err
	}

	// Identity and bookkeeping fields are not caller-writable.
	updated.ID = current.ID
	updated.PermitNumber = current.PermitNumber
	updated.CreatedAt = current.CreatedAt
	if updated.Status == "" {
		updated.Status = current.Status
	}
	if err := updated.Validate(); err != nil {
		return domain.Permit{}, err
	}

	saved, err := s.store.Update(ctx, updated, meta)
	if err != nil {
		return domain.Permit{}, err
	}

	if actx.ActionType == "" {
		actx.ActionType = domain.ActionUpdate
	}
	s.audit.LogPermitChanges(ctx, &current, &saved, actx)
	return saved, nil
}

func (s *PermitService) Delete(ctx context.Context, id uint64, actx domain.AuditContext, meta domain.MutationMetadata) (bool, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	deleted, err := s.store.Delete(ctx, id, meta)
	if err != nil {
		return false, err
	}
	if deleted {
		actx.ActionType = domain.ActionDelete
		s.audit.LogPermitDeletion(ctx, &current, actx)
	}
	return deleted, nil
}

// Approve moves the permit to approved and records the transition under
// the approval action type.
func (s *PermitService) Approve(ctx context.Context, id uint64, actx domain.AuditContext, meta domain.MutationMetadata) (domain.Permit, error) {
	return s.transition(ctx, id, domain.StatusApproved, domain.ActionApproval, actx, meta)
}

// Sign finalizes an approved permit and records the transition under the
// signature action type.
func (s *PermitService) Sign(ctx context.Context, id uint64, actx domain.AuditContext, meta domain.MutationMetadata) (domain.Permit, error) {
	return s.transition(ctx, id, domain.StatusSigned, domain.ActionSignature, actx, meta)
}

func (s *PermitService) transition(ctx context.Context, id uint64, newStatus, actionType string, actx domain.AuditContext, meta domain.MutationMetadata) (domain.Permit, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Permit{}, err
	}

	updated := current
	updated.Status = newStatus
	saved, err := s.store.Update(ctx, updated, meta)
	if err != nil {
		return domain.Permit{}, err
	}

	actx.ActionType = actionType
	s.audit.LogPermitChanges(ctx, &current, &saved, actx)
	return saved, nil
}

// NewPermitNumber mints a human-facing permit identifier. Distinct from
// the store primary key.
func NewPermitNumber() string {
	return "PRM-" + strings.ToUpper(uuid.NewString()[:8])
}
