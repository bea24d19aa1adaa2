package ports

import (
	"context"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

// PermitStore persists permits. Mutations also append an outbox event in
// the same transaction so webhook delivery never observes a permit state
// that was rolled back.
type PermitStore interface {
	Create(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error)
	Update(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error)
	Delete(ctx context.Context, id uint64, meta domain.MutationMetadata) (bool, error)
	Get(ctx context.Context, id uint64) (domain.Permit, error)
	GetByNumber(ctx context.Context, permitNumber string) (domain.Permit, error)
	List(ctx context.Context, filter domain.PermitListFilter) ([]domain.Permit, error)
}
