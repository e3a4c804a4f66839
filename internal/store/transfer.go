package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/subledger/internal/model"
)

type TransferStore struct {
	db *sql.DB
}

func NewTransferStore(db *sql.DB) *TransferStore {
	return &TransferStore{db: db}
}

func scanPendingTransfer(scanner interface{ Scan(...any) error }) (*model.PendingTransfer, error) {
	var pt model.PendingTransfer
	var expectedAt sql.NullTime
	err := scanner.Scan(&pt.ID, &pt.SubscriptionID, &pt.InitiatorID, &expectedAt, &pt.ExpiresAt, &pt.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expectedAt.Valid {
		pt.ExpectedTransferAt = &expectedAt.Time
	}
	return &pt, nil
}

const pendingTransferCols = `id, subscription_id, initiator_id, expected_transfer_at, expires_at, created_at`

func (s *TransferStore) Create(pt *model.PendingTransfer) error {
	var expected any
	if pt.ExpectedTransferAt != nil {
		expected = *pt.ExpectedTransferAt
	}
	_, err := s.db.Exec(
		`INSERT INTO pending_transfers (id, subscription_id, initiator_id, expected_transfer_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		pt.ID, pt.SubscriptionID, pt.InitiatorID, expected, pt.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending transfer: %w", err)
	}
	return nil
}

func (s *TransferStore) GetByID(id string) (*model.PendingTransfer, error) {
	row := s.db.QueryRow(`SELECT `+pendingTransferCols+` FROM pending_transfers WHERE id = ?`, id)
	pt, err := scanPendingTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending transfer: %w", err)
	}
	return pt, nil
}

func (s *TransferStore) GetBySubscription(subscriptionID string) (*model.PendingTransfer, error) {
	row := s.db.QueryRow(
		`SELECT `+pendingTransferCols+` FROM pending_transfers WHERE subscription_id = ?`,
		subscriptionID,
	)
	pt, err := scanPendingTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending transfer by subscription: %w", err)
	}
	return pt, nil
}

func (s *TransferStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM pending_transfers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pending transfer: %w", err)
	}
	return nil
}

// DeleteExpired removes abandoned pending transfers past their deadline and
// returns how many were removed.
func (s *TransferStore) DeleteExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM pending_transfers WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending transfers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
