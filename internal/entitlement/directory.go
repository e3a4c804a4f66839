package entitlement

import (
	"context"

	"github.com/dukerupert/subledger/internal/directory"
)

// Directory is the slice of the remote directory client this package
// consumes. *directory.Client satisfies it; tests substitute a fake.
type Directory interface {
	ListEntitlements(ctx context.Context, accountID string) ([]directory.EntitlementSnapshot, error)
	ListDevices(ctx context.Context, entitlementID string) ([]directory.DeviceSnapshot, error)
	RemoveDevice(ctx context.Context, entitlementID, hardwareID string) (bool, error)
}
