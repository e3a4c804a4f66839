package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/subledger/internal/model"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var renewalPrice sql.NullInt64
	var windowAt, transferAt sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.AccountID, &sub.DisplayName, &sub.PurchasePriceCents, &renewalPrice,
		&sub.ExpiresAt, &sub.RemovalCount, &windowAt, &transferAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if renewalPrice.Valid {
		sub.RenewalPriceCents = &renewalPrice.Int64
	}
	if windowAt.Valid {
		sub.RemovalWindowAt = &windowAt.Time
	}
	if transferAt.Valid {
		sub.LastTransferAt = &transferAt.Time
	}
	return &sub, nil
}

const subscriptionCols = `id, account_id, display_name, purchase_price_cents, renewal_price_cents, expires_at, removal_count, removal_window_at, last_transfer_at, created_at, updated_at`

// Create records a subscription first sighted in the remote directory.
// Prices start at zero and are assigned out-of-band via SetPrices.
func (s *SubscriptionStore) Create(id, accountID, displayName string, expiresAt time.Time) (*model.Subscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (id, account_id, display_name, expires_at) VALUES (?, ?, ?, ?)`,
		id, accountID, displayName, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return s.GetByID(id)
}

func (s *SubscriptionStore) GetByID(id string) (*model.Subscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) ListByAccount(accountID string) ([]*model.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE account_id = ? ORDER BY expires_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SetPrices assigns purchase and renewal pricing. A nil renewal price
// disables renewal for the subscription.
func (s *SubscriptionStore) SetPrices(id string, purchaseCents int64, renewalCents *int64) error {
	res, err := s.db.Exec(
		`UPDATE subscriptions SET purchase_price_cents = ?, renewal_price_cents = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		purchaseCents, renewalCents, id,
	)
	if err != nil {
		return fmt.Errorf("set prices: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SubscriptionStore) ExtendExpiry(id string, newExpiry time.Time) error {
	res, err := s.db.Exec(
		`UPDATE subscriptions SET expires_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newExpiry, id,
	)
	if err != nil {
		return fmt.Errorf("extend expiry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Renew debits the owning account and extends expiry in one transaction.
// Either both effects commit or neither does. Returns the new balance.
func (s *SubscriptionStore) Renew(id, accountID string, priceCents int64, newExpiry time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin renew: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRow(`SELECT account_id FROM subscriptions WHERE id = ?`, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read subscription: %w", err)
	}

	var balance int64
	err = tx.QueryRow(`SELECT balance_cents FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if balance < priceCents {
		return 0, ErrInsufficientFunds
	}

	_, err = tx.Exec(
		`UPDATE accounts SET balance_cents = balance_cents - ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		priceCents, accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("debit account: %w", err)
	}
	_, err = tx.Exec(
		`UPDATE subscriptions SET expires_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newExpiry, id,
	)
	if err != nil {
		return 0, fmt.Errorf("extend expiry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit renew: %w", err)
	}
	return balance - priceCents, nil
}

// CompareAndSwapOwner reassigns ownership only if the stored last-transfer
// timestamp still matches expected. Returns ErrConflict when another
// transfer completed in between.
func (s *SubscriptionStore) CompareAndSwapOwner(id string, expected *time.Time, newOwner string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin owner swap: %w", err)
	}
	defer tx.Rollback()

	var transferAt sql.NullTime
	err = tx.QueryRow(`SELECT last_transfer_at FROM subscriptions WHERE id = ?`, id).Scan(&transferAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read last transfer time: %w", err)
	}

	var current *time.Time
	if transferAt.Valid {
		current = &transferAt.Time
	}
	if !timesEqual(current, expected) {
		return ErrConflict
	}

	_, err = tx.Exec(
		`UPDATE subscriptions SET account_id = ?, last_transfer_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newOwner, now, id,
	)
	if err != nil {
		return fmt.Errorf("swap owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit owner swap: %w", err)
	}
	return nil
}

// ResetRemovalWindow zeroes the removal counter and re-anchors the window.
func (s *SubscriptionStore) ResetRemovalWindow(id string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE subscriptions SET removal_count = 0, removal_window_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("reset removal window: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRemovalCount bumps the removal counter, anchoring the window at
// now on first use. Counter and anchor move in one statement.
func (s *SubscriptionStore) IncrementRemovalCount(id string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE subscriptions SET removal_count = removal_count + 1, removal_window_at = COALESCE(removal_window_at, ?), updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("increment removal count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SubscriptionStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
