package entitlement

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukerupert/subledger/internal/database"
	"github.com/dukerupert/subledger/internal/directory"
	"github.com/dukerupert/subledger/internal/store"
)

// fakeDirectory is an in-memory stand-in for the remote directory.
type fakeDirectory struct {
	mu           sync.Mutex
	entitlements map[string][]directory.EntitlementSnapshot
	devices      map[string][]directory.DeviceSnapshot

	listErr    error
	listCalls  int
	devicesErr error
	removeErr  error
	removeGone bool

	removed []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		entitlements: make(map[string][]directory.EntitlementSnapshot),
		devices:      make(map[string][]directory.DeviceSnapshot),
	}
}

func (f *fakeDirectory) ListEntitlements(ctx context.Context, accountID string) ([]directory.EntitlementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entitlements[accountID], nil
}

func (f *fakeDirectory) ListDevices(ctx context.Context, entitlementID string) ([]directory.DeviceSnapshot, error) {
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return f.devices[entitlementID], nil
}

func (f *fakeDirectory) RemoveDevice(ctx context.Context, entitlementID, hardwareID string) (bool, error) {
	if f.removeErr != nil {
		return false, f.removeErr
	}
	if f.removeGone {
		return false, nil
	}
	f.removed = append(f.removed, hardwareID)
	kept := f.devices[entitlementID][:0]
	for _, d := range f.devices[entitlementID] {
		if d.HardwareID != hardwareID {
			kept = append(kept, d)
		}
	}
	f.devices[entitlementID] = kept
	return true, nil
}

type testEnv struct {
	db        *sql.DB
	accounts  *store.AccountStore
	subs      *store.SubscriptionStore
	transfers *store.TransferStore
	dir       *fakeDirectory
	logger    *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &testEnv{
		db:        db,
		accounts:  store.NewAccountStore(db),
		subs:      store.NewSubscriptionStore(db),
		transfers: store.NewTransferStore(db),
		dir:       newFakeDirectory(),
		logger:    slog.New(slog.DiscardHandler),
	}
}
