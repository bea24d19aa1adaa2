package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

// AuditLogRepository is the append-only store behind the audit recorder.
// Insert is a single atomic write; there are no update or delete
// operations for audit entries by design.
type AuditLogRepository interface {
	Insert(ctx context.Context, entry domain.AuditEntry) error
	ListByPermit(ctx context.Context, permitID uint64) ([]domain.AuditEntry, error)
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
	Stats(ctx context.Context, now time.Time, topN int) (domain.AuditStats, error)
}
