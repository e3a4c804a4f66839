package entitlement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/subledger/internal/directory"
	"github.com/dukerupert/subledger/internal/store"
)

const (
	// RemovalQuota is the number of device removals allowed per window.
	RemovalQuota = 4
	// RemovalWindow is the rolling quota window. The anchor starts on the
	// first removal, not on subscription creation, so two subscriptions
	// created the same day can have different reset dates.
	RemovalWindow = 30 * 24 * time.Hour
)

// DeviceQuotaManager enforces the rolling device-removal quota. Device
// identities live only in the remote directory; the ledger tracks the
// removal counter and window anchor.
type DeviceQuotaManager struct {
	subs   *store.SubscriptionStore
	dir    Directory
	logger *slog.Logger
}

func NewDeviceQuotaManager(subs *store.SubscriptionStore, dir Directory, logger *slog.Logger) *DeviceQuotaManager {
	return &DeviceQuotaManager{subs: subs, dir: dir, logger: logger}
}

// RemoveDevice disconnects the live device whose hardware id starts with
// hwidPrefix. The remote removal happens before any local mutation, so a
// remote failure leaves the quota untouched. Returns the removed device.
func (m *DeviceQuotaManager) RemoveDevice(ctx context.Context, subscriptionID, actorID, hwidPrefix string) (*directory.DeviceSnapshot, error) {
	sub, err := m.subs.GetByID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	if sub.AccountID != actorID {
		return nil, ErrNotOwner
	}

	now := time.Now().UTC()

	// Roll the window over before evaluating the quota.
	if sub.RemovalWindowAt != nil && now.Sub(*sub.RemovalWindowAt) >= RemovalWindow {
		if err := m.subs.ResetRemovalWindow(subscriptionID, now); err != nil {
			return nil, err
		}
		sub.RemovalCount = 0
		sub.RemovalWindowAt = &now
	}

	if sub.RemovalCount >= RemovalQuota {
		remaining := windowDays
		if sub.RemovalWindowAt != nil {
			remaining = windowDays - daysSince(*sub.RemovalWindowAt, now)
		}
		return nil, &QuotaExceededError{DaysRemaining: remaining}
	}

	devices, err := m.dir.ListDevices(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	if len(devices) == 1 {
		return nil, ErrLastDeviceProtected
	}

	var target *directory.DeviceSnapshot
	for i := range devices {
		if strings.HasPrefix(devices[i].HardwareID, hwidPrefix) {
			target = &devices[i]
			break
		}
	}
	if target == nil {
		return nil, ErrDeviceNotFound
	}

	removed, err := m.dir.RemoveDevice(ctx, subscriptionID, target.HardwareID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, ErrDeviceNotFound
	}

	if err := m.subs.IncrementRemovalCount(subscriptionID, now); err != nil {
		return nil, err
	}

	m.logger.Info("device removed",
		"subscription", subscriptionID,
		"account", actorID,
		"hwid", target.HardwareID,
	)
	return target, nil
}

const windowDays = int(RemovalWindow / (24 * time.Hour))

func daysSince(t, now time.Time) int {
	return int(now.Sub(t).Hours() / 24)
}
