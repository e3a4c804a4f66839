package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/subledger/internal/store"
)

// RenewalPeriod is the access window bought by one renewal. Renewal sets
// expiry to now + RenewalPeriod from the moment of renewal; it does not
// append to remaining time.
const RenewalPeriod = 30 * 24 * time.Hour

// RenewalProcessor debits an account and extends its subscription in one
// ledger transaction. It holds no state of its own.
type RenewalProcessor struct {
	accounts *store.AccountStore
	subs     *store.SubscriptionStore
	logger   *slog.Logger
}

func NewRenewalProcessor(accounts *store.AccountStore, subs *store.SubscriptionStore, logger *slog.Logger) *RenewalProcessor {
	return &RenewalProcessor{accounts: accounts, subs: subs, logger: logger}
}

type RenewalResult struct {
	BalanceCents int64
	ExpiresAt    time.Time
}

// Renew charges the renewal price to the acting account and moves expiry
// to now + RenewalPeriod. Both effects commit together or not at all.
func (p *RenewalProcessor) Renew(ctx context.Context, subscriptionID, actorID string) (*RenewalResult, error) {
	sub, err := p.subs.GetByID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	if sub.AccountID != actorID {
		return nil, ErrNotOwner
	}
	if sub.RenewalPriceCents == nil {
		return nil, ErrRenewalDisabled
	}
	price := *sub.RenewalPriceCents

	account, err := p.accounts.GetByID(actorID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNotFound
	}
	// Comparison only; the authoritative funds check happens inside the
	// renew transaction.
	if account.BalanceCents < price {
		return nil, store.ErrInsufficientFunds
	}

	newExpiry := time.Now().UTC().Add(RenewalPeriod)
	newBalance, err := p.subs.Renew(subscriptionID, actorID, price, newExpiry)
	if err != nil {
		return nil, err
	}

	p.logger.Info("subscription renewed",
		"subscription", subscriptionID,
		"account", actorID,
		"price_cents", price,
		"expires_at", newExpiry,
	)
	return &RenewalResult{BalanceCents: newBalance, ExpiresAt: newExpiry}, nil
}
