package store

import (
	"testing"
	"time"

	"github.com/dukerupert/subledger/internal/model"
)

func setupTransfer(t *testing.T) (*TransferStore, *SubscriptionStore) {
	t.Helper()
	db := setupTestDB(t)
	as := NewAccountStore(db)
	ss := NewSubscriptionStore(db)
	if _, err := as.GetOrCreate("owner"); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := ss.Create("sub-1", "owner", "alpha", time.Now().UTC()); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return NewTransferStore(db), ss
}

func TestPendingTransferRoundTrip(t *testing.T) {
	ts, _ := setupTransfer(t)

	expected := time.Now().UTC().Add(-20 * 24 * time.Hour).Truncate(time.Second)
	pt := &model.PendingTransfer{
		ID:                 "pt-1",
		SubscriptionID:     "sub-1",
		InitiatorID:        "owner",
		ExpectedTransferAt: &expected,
		ExpiresAt:          time.Now().UTC().Add(15 * time.Minute).Truncate(time.Second),
	}
	if err := ts.Create(pt); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := ts.GetByID("pt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected pending transfer, got nil")
	}
	if got.SubscriptionID != "sub-1" || got.InitiatorID != "owner" {
		t.Errorf("got %+v", got)
	}
	if got.ExpectedTransferAt == nil || !got.ExpectedTransferAt.Equal(expected) {
		t.Errorf("expected transfer at = %v, want %v", got.ExpectedTransferAt, expected)
	}

	bySub, err := ts.GetBySubscription("sub-1")
	if err != nil {
		t.Fatalf("get by subscription: %v", err)
	}
	if bySub == nil || bySub.ID != "pt-1" {
		t.Errorf("by subscription = %+v, want pt-1", bySub)
	}
}

func TestPendingTransferNilExpected(t *testing.T) {
	ts, _ := setupTransfer(t)

	pt := &model.PendingTransfer{
		ID:             "pt-1",
		SubscriptionID: "sub-1",
		InitiatorID:    "owner",
		ExpiresAt:      time.Now().UTC().Add(15 * time.Minute),
	}
	if err := ts.Create(pt); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := ts.GetByID("pt-1")
	if got.ExpectedTransferAt != nil {
		t.Errorf("expected transfer at = %v, want nil", got.ExpectedTransferAt)
	}
}

func TestPendingTransferDelete(t *testing.T) {
	ts, _ := setupTransfer(t)
	ts.Create(&model.PendingTransfer{
		ID: "pt-1", SubscriptionID: "sub-1", InitiatorID: "owner",
		ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
	})

	if err := ts.Delete("pt-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := ts.GetByID("pt-1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestDeleteExpired(t *testing.T) {
	ts, ss := setupTransfer(t)
	ss.Create("sub-2", "owner", "beta", time.Now().UTC())

	now := time.Now().UTC()
	ts.Create(&model.PendingTransfer{
		ID: "pt-old", SubscriptionID: "sub-1", InitiatorID: "owner",
		ExpiresAt: now.Add(-time.Minute),
	})
	ts.Create(&model.PendingTransfer{
		ID: "pt-live", SubscriptionID: "sub-2", InitiatorID: "owner",
		ExpiresAt: now.Add(15 * time.Minute),
	})

	n, err := ts.DeleteExpired(now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if got, _ := ts.GetByID("pt-old"); got != nil {
		t.Error("expired transfer survived")
	}
	if got, _ := ts.GetByID("pt-live"); got == nil {
		t.Error("live transfer was deleted")
	}
}
