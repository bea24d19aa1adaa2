package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

type stubPermitStore struct {
	createFn func(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error)
	updateFn func(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error)
	deleteFn func(ctx context.Context, id uint64, meta domain.MutationMetadata) (bool, error)
	getFn    func(ctx context.Context, id uint64) (domain.Permit, error)
	listFn   func(ctx context.Context, filter domain.PermitListFilter) ([]domain.Permit, error)
}

func (s *stubPermitStore) Create(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error) {
	if s.createFn != nil {
		return s.createFn(ctx, permit, meta)
	}
	permit.ID = 1
	return permit, nil
}

func (s *stubPermitStore) Update(ctx context.Context, permit domain.Permit, meta domain.MutationMetadata) (domain.Permit, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, permit, meta)
	}
	return permit, nil
}

func (s *stubPermitStore) Delete(ctx context.Context, id uint64, meta domain.MutationMetadata) (bool, error) {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id, meta)
	}
	return true, nil
}

func (s *stubPermitStore) Get(ctx context.Context, id uint64) (domain.Permit, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return domain.Permit{}, domain.ErrNotFound
}

func (s *stubPermitStore) GetByNumber(context.Context, string) (domain.Permit, error) {
	return domain.Permit{}, domain.ErrNotFound
}

func (s *stubPermitStore) List(ctx context.Context, filter domain.PermitListFilter) ([]domain.Permit, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func newTestService(store *stubPermitStore, audit *stubAuditRepo) *PermitService {
	return NewPermitService(store, NewAuditRecorder(audit, quietLogger()))
}

func TestPermitServiceCreateMintsNumberAndLogsCreation(t *testing.T) {
	audit := &stubAuditRepo{}
	svc := newTestService(&stubPermitStore{}, audit)

	created, err := svc.Create(context.Background(), domain.Permit{
		Type:          domain.TypeConstruction,
		ApplicantName: "Jonas Petraitis",
	}, domain.AuditContext{UserID: "clerk"}, domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if created.Status != domain.StatusPending {
		t.Fatalf("expected default pending status, got %s", created.Status)
	}
	if !strings.HasPrefix(created.PermitNumber, "PRM-") {
		t.Fatalf("expected minted permit number, got %q", created.PermitNumber)
	}
	if len(audit.inserted) != 1 || audit.inserted[0].ActionType != domain.ActionCreate {
		t.Fatalf("expected one creation audit entry, got %+v", audit.inserted)
	}
}

func TestPermitServiceCreateRejectsInvalidType(t *testing.T) {
	svc := newTestService(&stubPermitStore{}, &stubAuditRepo{})

	_, err := svc.Create(context.Background(), domain.Permit{
		Type:          "spaceport",
		ApplicantName: "Jonas Petraitis",
	}, domain.AuditContext{}, domain.MutationMetadata{})
	if !errors.Is(err, domain.ErrInvalidPermitType) {
		t.Fatalf("expected invalid permit type, got %v", err)
	}
}

func TestPermitServiceUpdatePreservesIdentityAndDiffs(t *testing.T) {
	current := basePermit()
	store := &stubPermitStore{
		getFn: func(_ context.Context, id uint64) (domain.Permit, error) {
			if id != current.ID {
				return domain.Permit{}, domain.ErrNotFound
			}
			return current, nil
		},
	}
	audit := &stubAuditRepo{}
	svc := newTestService(store, audit)

	incoming := basePermit()
	incoming.PermitNumber = "PRM-FORGED"
	incoming.Location = "Konstitucijos pr. 7"

	saved, err := svc.Update(context.Background(), current.ID, incoming, domain.AuditContext{UserID: "clerk"}, domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if saved.PermitNumber != current.PermitNumber {
		t.Fatalf("permit number must not be caller-writable, got %s", saved.PermitNumber)
	}

	if len(audit.inserted) != 1 {
		t.Fatalf("expected one field entry, got %d", len(audit.inserted))
	}
	entry := audit.inserted[0]
	if entry.ActionType != domain.ActionUpdate {
		t.Fatalf("expected update action, got %s", entry.ActionType)
	}
	if entry.FieldName == nil || *entry.FieldName != "location" {
		t.Fatalf("expected location entry, got %v", entry.FieldName)
	}
}

func TestPermitServiceDeleteMissingPermitIsNotAnError(t *testing.T) {
	audit := &stubAuditRepo{}
	svc := newTestService(&stubPermitStore{}, audit)

	deleted, err := svc.Delete(context.Background(), 99, domain.AuditContext{}, domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted {
		t.Fatal("expected deleted=false for missing permit")
	}
	if len(audit.inserted) != 0 {
		t.Fatalf("missing permit must not produce audit entries, got %d", len(audit.inserted))
	}
}

func TestPermitServiceDeleteLogsSnapshot(t *testing.T) {
	current := basePermit()
	store := &stubPermitStore{
		getFn: func(context.Context, uint64) (domain.Permit, error) { return current, nil },
	}
	audit := &stubAuditRepo{}
	svc := newTestService(store, audit)

	deleted, err := svc.Delete(context.Background(), current.ID, domain.AuditContext{UserID: "clerk"}, domain.MutationMetadata{})
	if err != nil || !deleted {
		t.Fatalf("expected successful delete, got deleted=%v err=%v", deleted, err)
	}
	if len(audit.inserted) != 1 || audit.inserted[0].ActionType != domain.ActionDelete {
		t.Fatalf("expected one deletion entry, got %+v", audit.inserted)
	}
	if audit.inserted[0].OldValue == nil {
		t.Fatal("deletion entry must carry the snapshot in old value")
	}
}

func TestPermitServiceApproveRecordsApprovalAndTransition(t *testing.T) {
	current := basePermit()
	store := &stubPermitStore{
		getFn: func(context.Context, uint64) (domain.Permit, error) { return current, nil },
	}
	audit := &stubAuditRepo{}
	svc := newTestService(store, audit)

	saved, err := svc.Approve(context.Background(), current.ID, domain.AuditContext{UserID: "inspector"}, domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if saved.Status != domain.StatusApproved {
		t.Fatalf("expected approved status, got %s", saved.Status)
	}

	if len(audit.inserted) != 2 {
		t.Fatalf("expected field + status_change entries, got %d", len(audit.inserted))
	}
	if audit.inserted[0].ActionType != domain.ActionApproval {
		t.Fatalf("expected approval action, got %s", audit.inserted[0].ActionType)
	}
	if audit.inserted[1].ActionType != domain.ActionStatusChange {
		t.Fatalf("expected status_change, got %s", audit.inserted[1].ActionType)
	}
}

func TestPermitServiceSignRecordsSignature(t *testing.T) {
	current := basePermit()
	current.Status = domain.StatusApproved
	store := &stubPermitStore{
		getFn: func(context.Context, uint64) (domain.Permit, error) { return current, nil },
	}
	audit := &stubAuditRepo{}
	svc := newTestService(store, audit)

	saved, err := svc.Sign(context.Background(), current.ID, domain.AuditContext{UserID: "mayor"}, domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if saved.Status != domain.StatusSigned {
		t.Fatalf("expected signed status, got %s", saved.Status)
	}
	if len(audit.inserted) != 2 || audit.inserted[0].ActionType != domain.ActionSignature {
		t.Fatalf("expected signature entry first, got %+v", audit.inserted)
	}
	transition, _ := audit.inserted[1].Metadata["status_transition"].(string)
	if transition != "approved -> signed" {
		t.Fatalf("unexpected transition: %q", transition)
	}
}

func TestPermitServiceListDefaultsAndClampsLimit(t *testing.T) {
	var seen domain.PermitListFilter
	store := &stubPermitStore{listFn: func(_ context.Context, filter domain.PermitListFilter) ([]domain.Permit, error) {
		seen = filter
		return nil, nil
	}}
	svc := newTestService(store, &stubAuditRepo{})

	if _, err := svc.List(context.Background(), domain.PermitListFilter{}); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if seen.Limit != 100 {
		t.Fatalf("expected default limit 100, got %d", seen.Limit)
	}

	if _, err := svc.List(context.Background(), domain.PermitListFilter{Limit: 5000}); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if seen.Limit != 1000 {
		t.Fatalf("expected clamped limit 1000, got %d", seen.Limit)
	}

	_, err := svc.List(context.Background(), domain.PermitListFilter{Status: "bogus"})
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}
