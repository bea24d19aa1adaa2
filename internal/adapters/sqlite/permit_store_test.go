package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

func testPermit() domain.Permit {
	return domain.Permit{
		PermitNumber:  "PRM-TEST0001",
		Type:          domain.TypeConstruction,
		Status:        domain.StatusPending,
		ApplicantName: "Jonas Petraitis",
		Location:      "Gedimino pr. 1",
		Position:      &domain.MapPosition{Lat: 54.687, Lng: 25.279},
		Tags:          []string{"roadwork"},
	}
}

func TestPermitStoreCreateRoundTripAndOutbox(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewPermitStore(db)
	outbox := NewOutboxRepository(db)

	created, err := store.Create(ctx, testPermit(), domain.MutationMetadata{Actor: "clerk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected assigned id")
	}

	loaded, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.PermitNumber != "PRM-TEST0001" || loaded.Status != domain.StatusPending {
		t.Fatalf("unexpected permit: %+v", loaded)
	}
	if loaded.Position == nil || loaded.Position.Lat != 54.687 {
		t.Fatalf("position did not round-trip: %+v", loaded.Position)
	}
	if len(loaded.Tags) != 1 || loaded.Tags[0] != "roadwork" {
		t.Fatalf("tags did not round-trip: %v", loaded.Tags)
	}

	events, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one outbox event, got %d", len(events))
	}
	if events[0].Topic != "permits.permit.created" {
		t.Fatalf("unexpected topic: %s", events[0].Topic)
	}
}

func TestPermitStoreUpdatePreservesNumberAndCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewPermitStore(db)

	created, err := store.Create(ctx, testPermit(), domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	changed := created
	changed.PermitNumber = "PRM-FORGED"
	changed.Location = "Konstitucijos pr. 7"
	changed.Status = domain.StatusInReview

	saved, err := store.Update(ctx, changed, domain.MutationMetadata{OccurredAt: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.PermitNumber != created.PermitNumber {
		t.Fatalf("permit number must survive updates, got %s", saved.PermitNumber)
	}
	if !saved.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at must survive updates: %v vs %v", saved.CreatedAt, created.CreatedAt)
	}
	if saved.Location != "Konstitucijos pr. 7" || saved.Status != domain.StatusInReview {
		t.Fatalf("update not applied: %+v", saved)
	}
}

func TestPermitStoreUpdateMissingPermit(t *testing.T) {
	ctx := context.Background()
	store := NewPermitStore(openTestDB(t))

	missing := testPermit()
	missing.ID = 42
	_, err := store.Update(ctx, missing, domain.MutationMetadata{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPermitStoreDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewPermitStore(db)
	outbox := NewOutboxRepository(db)

	created, err := store.Create(ctx, testPermit(), domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := store.Delete(ctx, created.ID, domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true")
	}

	if _, err := store.Get(ctx, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	again, err := store.Delete(ctx, created.ID, domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if again {
		t.Fatal("expected deleted=false for missing permit")
	}

	events, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	// create + delete, nothing for the no-op second delete.
	if len(events) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(events))
	}
}

func TestPermitStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewPermitStore(openTestDB(t))

	seed := []domain.Permit{testPermit(), testPermit(), testPermit()}
	seed[1].PermitNumber = "PRM-TEST0002"
	seed[1].Type = domain.TypeEvent
	seed[2].PermitNumber = "PRM-TEST0003"
	seed[2].Status = domain.StatusApproved

	for i, permit := range seed {
		if _, err := store.Create(ctx, permit, domain.MutationMetadata{}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	byType, err := store.List(ctx, domain.PermitListFilter{Type: domain.TypeEvent})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 1 || byType[0].PermitNumber != "PRM-TEST0002" {
		t.Fatalf("unexpected type filter result: %v", byType)
	}

	byStatus, err := store.List(ctx, domain.PermitListFilter{Status: domain.StatusApproved})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].PermitNumber != "PRM-TEST0003" {
		t.Fatalf("unexpected status filter result: %v", byStatus)
	}

	all, err := store.List(ctx, domain.PermitListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 permits, got %d", len(all))
	}
	// Newest first.
	if all[0].PermitNumber != "PRM-TEST0003" {
		t.Fatalf("expected newest permit first, got %s", all[0].PermitNumber)
	}
}

func TestPermitStoreGetByNumber(t *testing.T) {
	ctx := context.Background()
	store := NewPermitStore(openTestDB(t))

	if _, err := store.Create(ctx, testPermit(), domain.MutationMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := store.GetByNumber(ctx, "PRM-TEST0001")
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if found.ApplicantName != "Jonas Petraitis" {
		t.Fatalf("unexpected permit: %+v", found)
	}

	if _, err := store.GetByNumber(ctx, "PRM-MISSING"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOutboxRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewPermitStore(db)
	outbox := NewOutboxRepository(db)

	if _, err := store.Create(ctx, testPermit(), domain.MutationMetadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	events, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one pending event, got %d", len(events))
	}
	id := events[0].ID

	next := time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano)
	if err := outbox.MarkFailed(ctx, id, 1, next, "receiver down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	deferred, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch after backoff: %v", err)
	}
	if len(deferred) != 0 {
		t.Fatalf("backed-off event must not be pending yet, got %d", len(deferred))
	}

	if err := outbox.MarkDispatched(ctx, id); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	done, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch after dispatch: %v", err)
	}
	if len(done) != 0 {
		t.Fatalf("dispatched event must not reappear, got %d", len(done))
	}
}

func TestAPIKeyRepositoryUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(openTestDB(t))

	key := domain.APIKey{TokenHash: "hash-1", Name: "inspector", Active: true}
	if err := repo.Upsert(ctx, key); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	found, err := repo.FindByTokenHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Name != "inspector" || !found.Active {
		t.Fatalf("unexpected key: %+v", found)
	}

	key.Active = false
	key.Name = "inspector-renamed"
	if err := repo.Upsert(ctx, key); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	updated, err := repo.FindByTokenHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("find after upsert: %v", err)
	}
	if updated.Active || updated.Name != "inspector-renamed" {
		t.Fatalf("upsert did not apply: %+v", updated)
	}

	if _, err := repo.FindByTokenHash(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
