package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/subledger/internal/model"
	"github.com/dukerupert/subledger/internal/store"
)

const (
	// TransferCooldown is the minimum interval between two ownership
	// transfers of the same subscription.
	TransferCooldown = 14 * 24 * time.Hour

	// DefaultPendingTTL bounds how long an initiated transfer waits for a
	// recipient before the janitor discards it.
	DefaultPendingTTL = 15 * time.Minute
)

const cooldownDays = int(TransferCooldown / (24 * time.Hour))

// Notification is the event produced on a completed transfer, addressed to
// the new owner. Delivery belongs to the messaging layer, not this core.
type Notification struct {
	RecipientID    string `json:"recipient_id"`
	SubscriptionID string `json:"subscription_id"`
	DisplayName    string `json:"display_name"`
}

// TransferCoordinator moves subscription ownership between accounts. The
// pending context is persisted so a restart cannot silently drop an
// in-flight transfer, and the owner swap is an optimistic compare-and-swap
// on the last-transfer timestamp: the window between Initiate and
// SubmitRecipient spans user interaction and must not hold a lock.
type TransferCoordinator struct {
	accounts   *store.AccountStore
	subs       *store.SubscriptionStore
	transfers  *store.TransferStore
	logger     *slog.Logger
	pendingTTL time.Duration
}

func NewTransferCoordinator(accounts *store.AccountStore, subs *store.SubscriptionStore, transfers *store.TransferStore, logger *slog.Logger) *TransferCoordinator {
	return &TransferCoordinator{
		accounts:   accounts,
		subs:       subs,
		transfers:  transfers,
		logger:     logger,
		pendingTTL: DefaultPendingTTL,
	}
}

// Initiate starts a transfer after the ownership and cooldown checks. A
// previous pending context for the same subscription is superseded. No
// ledger mutation happens until SubmitRecipient.
func (c *TransferCoordinator) Initiate(ctx context.Context, subscriptionID, actorID string) (*model.PendingTransfer, error) {
	sub, err := c.subs.GetByID(subscriptionID)
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
	if sub.LastTransferAt != nil {
		if since := now.Sub(*sub.LastTransferAt); since < TransferCooldown {
			return nil, &CooldownError{DaysRemaining: cooldownDays - daysSince(*sub.LastTransferAt, now)}
		}
	}

	if prev, err := c.transfers.GetBySubscription(subscriptionID); err != nil {
		return nil, err
	} else if prev != nil {
		if err := c.transfers.Delete(prev.ID); err != nil {
			return nil, err
		}
	}

	pt := &model.PendingTransfer{
		ID:                 uuid.NewString(),
		SubscriptionID:     subscriptionID,
		InitiatorID:        actorID,
		ExpectedTransferAt: sub.LastTransferAt,
		ExpiresAt:          now.Add(c.pendingTTL),
	}
	if err := c.transfers.Create(pt); err != nil {
		return nil, err
	}

	c.logger.Info("transfer initiated",
		"transfer", pt.ID,
		"subscription", subscriptionID,
		"account", actorID,
	)
	return pt, nil
}

// SubmitRecipient completes a pending transfer. The compare-and-swap on the
// last-transfer timestamp is the sole safeguard against two concurrent
// submissions for the same subscription; the loser gets ErrTransferRaced
// and its context is discarded.
func (c *TransferCoordinator) SubmitRecipient(ctx context.Context, pendingID, recipientID string) (*Notification, error) {
	pt, err := c.transfers.GetByID(pendingID)
	if err != nil {
		return nil, err
	}
	if pt == nil {
		return nil, ErrTransferNotFound
	}

	// The pending context survives a self-transfer rejection so the
	// initiator can submit a different recipient.
	if recipientID == pt.InitiatorID {
		return nil, ErrSelfTransfer
	}

	now := time.Now().UTC()
	if now.After(pt.ExpiresAt) {
		if err := c.transfers.Delete(pt.ID); err != nil {
			return nil, err
		}
		return nil, ErrTransferNotFound
	}

	sub, err := c.subs.GetByID(pt.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		if err := c.transfers.Delete(pt.ID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	if _, err := c.accounts.GetOrCreate(recipientID); err != nil {
		return nil, err
	}

	err = c.subs.CompareAndSwapOwner(pt.SubscriptionID, pt.ExpectedTransferAt, recipientID, now)
	if errors.Is(err, store.ErrConflict) {
		if derr := c.transfers.Delete(pt.ID); derr != nil {
			return nil, derr
		}
		c.logger.Warn("transfer raced",
			"transfer", pt.ID,
			"subscription", pt.SubscriptionID,
		)
		return nil, ErrTransferRaced
	}
	if err != nil {
		return nil, err
	}

	if err := c.transfers.Delete(pt.ID); err != nil {
		return nil, err
	}

	c.logger.Info("transfer completed",
		"transfer", pt.ID,
		"subscription", pt.SubscriptionID,
		"from", pt.InitiatorID,
		"to", recipientID,
	)
	return &Notification{
		RecipientID:    recipientID,
		SubscriptionID: pt.SubscriptionID,
		DisplayName:    sub.DisplayName,
	}, nil
}

// Cancel discards a pending transfer. No ledger effect.
func (c *TransferCoordinator) Cancel(ctx context.Context, pendingID string) error {
	pt, err := c.transfers.GetByID(pendingID)
	if err != nil {
		return err
	}
	if pt == nil {
		return ErrTransferNotFound
	}
	return c.transfers.Delete(pt.ID)
}

// ExpirePending removes abandoned pending transfers past their deadline.
// Harmless by construction: nothing is mutated before a successful
// SubmitRecipient.
func (c *TransferCoordinator) ExpirePending(now time.Time) (int64, error) {
	return c.transfers.DeleteExpired(now)
}
