package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/subledger/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var lastSync sql.NullTime
	err := scanner.Scan(&a.ID, &a.BalanceCents, &a.Role, &lastSync, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		a.LastSyncAt = &lastSync.Time
	}
	return &a, nil
}

const accountCols = `id, balance_cents, role, last_sync_at, created_at, updated_at`

// GetOrCreate returns the account with the given identifier, creating it
// with a zero balance and the default role on first contact.
func (s *AccountStore) GetOrCreate(id string) (*model.Account, error) {
	_, err := s.db.Exec(
		`INSERT INTO accounts (id, role) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, model.RoleUser,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	a, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("account %s missing after insert", id)
	}
	return a, nil
}

func (s *AccountStore) GetByID(id string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) List() ([]*model.Account, error) {
	rows, err := s.db.Query(`SELECT ` + accountCols + ` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Debit atomically decrements the balance and returns the new value.
// Returns ErrInsufficientFunds without any effect when the balance cannot
// cover the amount; the balance never goes negative.
func (s *AccountStore) Debit(id string, cents int64) (int64, error) {
	if cents < 0 {
		return 0, fmt.Errorf("debit amount %d is negative", cents)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRow(`SELECT balance_cents FROM accounts WHERE id = ?`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if balance < cents {
		return 0, ErrInsufficientFunds
	}

	_, err = tx.Exec(
		`UPDATE accounts SET balance_cents = balance_cents - ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		cents, id,
	)
	if err != nil {
		return 0, fmt.Errorf("debit account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return balance - cents, nil
}

// Credit atomically increments the balance and returns the new value.
func (s *AccountStore) Credit(id string, cents int64) (int64, error) {
	if cents < 0 {
		return 0, fmt.Errorf("credit amount %d is negative", cents)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		cents, id,
	)
	if err != nil {
		return 0, fmt.Errorf("credit account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	var balance int64
	if err := tx.QueryRow(`SELECT balance_cents FROM accounts WHERE id = ?`, id).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credit: %w", err)
	}
	return balance, nil
}

func (s *AccountStore) SetRole(id, role string) error {
	res, err := s.db.Exec(
		`UPDATE accounts SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LastSyncAt returns the account's last reconciliation time, or nil if the
// account has never been synced.
func (s *AccountStore) LastSyncAt(id string) (*time.Time, error) {
	var lastSync sql.NullTime
	err := s.db.QueryRow(`SELECT last_sync_at FROM accounts WHERE id = ?`, id).Scan(&lastSync)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get last sync time: %w", err)
	}
	if !lastSync.Valid {
		return nil, nil
	}
	return &lastSync.Time, nil
}

func (s *AccountStore) SetLastSyncAt(id string, t time.Time) error {
	res, err := s.db.Exec(
		`UPDATE accounts SET last_sync_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		t, id,
	)
	if err != nil {
		return fmt.Errorf("set last sync time: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
