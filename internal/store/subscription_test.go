package store

import (
	"errors"
	"testing"
	"time"
)

func setupSubscription(t *testing.T) (*SubscriptionStore, *AccountStore) {
	t.Helper()
	db := setupTestDB(t)
	ss, as := NewSubscriptionStore(db), NewAccountStore(db)
	if _, err := as.GetOrCreate("owner"); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	return ss, as
}

func TestSubscriptionCreate(t *testing.T) {
	ss, _ := setupSubscription(t)

	expiry := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	sub, err := ss.Create("sub-1", "owner", "alpha", expiry)
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.AccountID != "owner" {
		t.Errorf("account = %q, want owner", sub.AccountID)
	}
	if sub.PurchasePriceCents != 0 || sub.RenewalPriceCents != nil {
		t.Error("expected zero prices on creation")
	}
	if sub.RemovalCount != 0 || sub.RemovalWindowAt != nil {
		t.Error("expected pristine removal quota on creation")
	}
	if !sub.ExpiresAt.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", sub.ExpiresAt, expiry)
	}
}

func TestSubscriptionGetByIDNotFound(t *testing.T) {
	ss, _ := setupSubscription(t)

	sub, err := ss.GetByID("missing")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if sub != nil {
		t.Error("expected nil for nonexistent subscription")
	}
}

func TestSetPrices(t *testing.T) {
	ss, _ := setupSubscription(t)
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())

	renewal := int64(8000)
	if err := ss.SetPrices("sub-1", 12000, &renewal); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	sub, _ := ss.GetByID("sub-1")
	if sub.PurchasePriceCents != 12000 {
		t.Errorf("purchase = %d, want 12000", sub.PurchasePriceCents)
	}
	if sub.RenewalPriceCents == nil || *sub.RenewalPriceCents != 8000 {
		t.Errorf("renewal = %v, want 8000", sub.RenewalPriceCents)
	}

	// Clearing the renewal price disables renewal.
	if err := ss.SetPrices("sub-1", 12000, nil); err != nil {
		t.Fatalf("clear renewal price: %v", err)
	}
	sub, _ = ss.GetByID("sub-1")
	if sub.RenewalPriceCents != nil {
		t.Errorf("renewal = %v, want nil", sub.RenewalPriceCents)
	}
}

func TestExtendExpiry(t *testing.T) {
	ss, _ := setupSubscription(t)
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())

	newExpiry := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	if err := ss.ExtendExpiry("sub-1", newExpiry); err != nil {
		t.Fatalf("extend expiry: %v", err)
	}
	sub, _ := ss.GetByID("sub-1")
	if !sub.ExpiresAt.Equal(newExpiry) {
		t.Errorf("expiry = %v, want %v", sub.ExpiresAt, newExpiry)
	}

	if err := ss.ExtendExpiry("missing", newExpiry); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRenewCommitsBothEffects(t *testing.T) {
	ss, as := setupSubscription(t)
	as.Credit("owner", 10000)
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())

	newExpiry := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	balance, err := ss.Renew("sub-1", "owner", 8000, newExpiry)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if balance != 2000 {
		t.Errorf("balance = %d, want 2000", balance)
	}
	sub, _ := ss.GetByID("sub-1")
	if !sub.ExpiresAt.Equal(newExpiry) {
		t.Errorf("expiry = %v, want %v", sub.ExpiresAt, newExpiry)
	}
}

func TestRenewInsufficientFundsLeavesNoTrace(t *testing.T) {
	ss, as := setupSubscription(t)
	as.Credit("owner", 5000)
	oldExpiry := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	ss.Create("sub-1", "owner", "alpha", oldExpiry)

	_, err := ss.Renew("sub-1", "owner", 8000, oldExpiry.Add(30*24*time.Hour))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// Neither balance nor expiry drifted.
	a, _ := as.GetByID("owner")
	if a.BalanceCents != 5000 {
		t.Errorf("balance = %d, want 5000", a.BalanceCents)
	}
	sub, _ := ss.GetByID("sub-1")
	if !sub.ExpiresAt.Equal(oldExpiry) {
		t.Errorf("expiry = %v, want %v", sub.ExpiresAt, oldExpiry)
	}
}

func TestRenewNotFound(t *testing.T) {
	ss, _ := setupSubscription(t)

	_, err := ss.Renew("missing", "owner", 100, time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCompareAndSwapOwner(t *testing.T) {
	ss, as := setupSubscription(t)
	as.GetOrCreate("recipient")
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())

	now := time.Now().UTC().Truncate(time.Second)
	if err := ss.CompareAndSwapOwner("sub-1", nil, "recipient", now); err != nil {
		t.Fatalf("swap owner: %v", err)
	}
	sub, _ := ss.GetByID("sub-1")
	if sub.AccountID != "recipient" {
		t.Errorf("owner = %q, want recipient", sub.AccountID)
	}
	if sub.LastTransferAt == nil || !sub.LastTransferAt.Equal(now) {
		t.Errorf("last transfer = %v, want %v", sub.LastTransferAt, now)
	}
}

func TestCompareAndSwapOwnerConflict(t *testing.T) {
	ss, as := setupSubscription(t)
	as.GetOrCreate("first")
	as.GetOrCreate("second")
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())

	now := time.Now().UTC().Truncate(time.Second)
	if err := ss.CompareAndSwapOwner("sub-1", nil, "first", now); err != nil {
		t.Fatalf("first swap: %v", err)
	}

	// A second submission still expecting the pre-transfer timestamp loses.
	err := ss.CompareAndSwapOwner("sub-1", nil, "second", now.Add(time.Second))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	sub, _ := ss.GetByID("sub-1")
	if sub.AccountID != "first" {
		t.Errorf("owner = %q, want first", sub.AccountID)
	}
}

func TestCompareAndSwapOwnerNotFound(t *testing.T) {
	ss, _ := setupSubscription(t)

	err := ss.CompareAndSwapOwner("missing", nil, "recipient", time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIncrementRemovalCountAnchorsOnFirstUse(t *testing.T) {
	ss, _ := setupSubscription(t)
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())

	first := time.Now().UTC().Truncate(time.Second)
	if err := ss.IncrementRemovalCount("sub-1", first); err != nil {
		t.Fatalf("increment: %v", err)
	}
	sub, _ := ss.GetByID("sub-1")
	if sub.RemovalCount != 1 {
		t.Errorf("count = %d, want 1", sub.RemovalCount)
	}
	if sub.RemovalWindowAt == nil || !sub.RemovalWindowAt.Equal(first) {
		t.Errorf("anchor = %v, want %v", sub.RemovalWindowAt, first)
	}

	// A later increment keeps the original anchor.
	if err := ss.IncrementRemovalCount("sub-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("second increment: %v", err)
	}
	sub, _ = ss.GetByID("sub-1")
	if sub.RemovalCount != 2 {
		t.Errorf("count = %d, want 2", sub.RemovalCount)
	}
	if !sub.RemovalWindowAt.Equal(first) {
		t.Errorf("anchor moved to %v, want %v", sub.RemovalWindowAt, first)
	}
}

func TestResetRemovalWindow(t *testing.T) {
	ss, _ := setupSubscription(t)
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())
	ss.IncrementRemovalCount("sub-1", time.Now().UTC().Add(-31*24*time.Hour))

	now := time.Now().UTC().Truncate(time.Second)
	if err := ss.ResetRemovalWindow("sub-1", now); err != nil {
		t.Fatalf("reset: %v", err)
	}
	sub, _ := ss.GetByID("sub-1")
	if sub.RemovalCount != 0 {
		t.Errorf("count = %d, want 0", sub.RemovalCount)
	}
	if sub.RemovalWindowAt == nil || !sub.RemovalWindowAt.Equal(now) {
		t.Errorf("anchor = %v, want %v", sub.RemovalWindowAt, now)
	}
}

func TestSubscriptionListByAccount(t *testing.T) {
	ss, _ := setupSubscription(t)
	now := time.Now().UTC()
	ss.Create("sub-1", "owner", "alpha", now.Add(24*time.Hour))
	ss.Create("sub-2", "owner", "beta", now.Add(48*time.Hour))

	subs, err := ss.ListByAccount("owner")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	// Latest expiry first.
	if subs[0].ID != "sub-2" {
		t.Errorf("first = %q, want sub-2", subs[0].ID)
	}
}

func TestSubscriptionDelete(t *testing.T) {
	ss, _ := setupSubscription(t)
	ss.Create("sub-1", "owner", "alpha", time.Now().UTC())

	if err := ss.Delete("sub-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sub, err := ss.GetByID("sub-1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if sub != nil {
		t.Error("expected nil after delete")
	}
}
