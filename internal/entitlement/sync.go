package entitlement

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/subledger/internal/directory"
	"github.com/dukerupert/subledger/internal/store"
)

// SyncInterval throttles per-account reconciliation unless forced.
const SyncInterval = time.Hour

const syncConcurrency = 4

// ReconciliationSync folds remote directory truth into the local ledger.
// It is the only component that bulk-writes subscriptions from remote
// data, and the scheduled recovery path for transient remote failures.
type ReconciliationSync struct {
	accounts *store.AccountStore
	subs     *store.SubscriptionStore
	dir      Directory
	logger   *slog.Logger
}

func NewReconciliationSync(accounts *store.AccountStore, subs *store.SubscriptionStore, dir Directory, logger *slog.Logger) *ReconciliationSync {
	return &ReconciliationSync{accounts: accounts, subs: subs, dir: dir, logger: logger}
}

type SyncResult struct {
	Skipped bool `json:"skipped"`
	Created int  `json:"created"`
	Updated int  `json:"updated"`
	Removed int  `json:"removed"`
}

// Sync reconciles one account against the remote directory. Locally owned
// pricing is never touched; only expiry follows the remote snapshot.
// Running Sync twice with no remote change in between yields identical
// local records.
func (r *ReconciliationSync) Sync(ctx context.Context, accountID string, force bool) (SyncResult, error) {
	var result SyncResult

	account, err := r.accounts.GetOrCreate(accountID)
	if err != nil {
		return result, err
	}

	now := time.Now().UTC()
	if !force && account.LastSyncAt != nil && now.Sub(*account.LastSyncAt) < SyncInterval {
		result.Skipped = true
		return result, nil
	}

	// Transient failures get a short bounded backoff here; this is the
	// recovery path, not a user-facing request.
	var snaps []directory.EntitlementSnapshot
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var lerr error
		snaps, lerr = r.dir.ListEntitlements(ctx, accountID)
		if directory.IsTransient(lerr) {
			return retry.RetryableError(lerr)
		}
		return lerr
	})
	if err != nil {
		return result, err
	}

	remote := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		remote[snap.ID] = true
	}

	locals, err := r.subs.ListByAccount(accountID)
	if err != nil {
		return result, err
	}
	for _, local := range locals {
		if !remote[local.ID] {
			if err := r.subs.Delete(local.ID); err != nil {
				return result, err
			}
			result.Removed++
		}
	}

	for _, snap := range snaps {
		local, err := r.subs.GetByID(snap.ID)
		if err != nil {
			return result, err
		}
		if local != nil {
			// Prices are locally owned; an unparseable remote expiry
			// keeps the current one rather than moving it.
			expiry := snap.ExpiryOr(local.ExpiresAt)
			if !expiry.Equal(local.ExpiresAt) {
				if err := r.subs.ExtendExpiry(snap.ID, expiry); err != nil {
					return result, err
				}
				result.Updated++
			}
			continue
		}
		if _, err := r.subs.Create(snap.ID, accountID, snap.DisplayName, snap.ExpiryOr(now)); err != nil {
			return result, err
		}
		result.Created++
	}

	if err := r.accounts.SetLastSyncAt(accountID, now); err != nil {
		return result, err
	}

	r.logger.Debug("account synced",
		"account", accountID,
		"created", result.Created,
		"updated", result.Updated,
		"removed", result.Removed,
	)
	return result, nil
}

// SyncAll sweeps every known account with bounded concurrency. Per-account
// failures are logged and do not stop the sweep; only context cancellation
// aborts it.
func (r *ReconciliationSync) SyncAll(ctx context.Context) (int, error) {
	accounts, err := r.accounts.List()
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	var synced atomic.Int64
	for _, account := range accounts {
		g.Go(func() error {
			result, err := r.Sync(ctx, account.ID, false)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("sync failed", "account", account.ID, "error", err)
				return nil
			}
			if !result.Skipped {
				synced.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(synced.Load()), err
	}
	return int(synced.Load()), nil
}
