package store

import "errors"

var (
	// ErrNotFound is returned by mutations targeting an absent row.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned by Debit when the balance cannot
	// cover the amount. The balance is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict is returned by CompareAndSwapOwner when the stored
	// last-transfer timestamp no longer matches the expected one.
	ErrConflict = errors.New("conflict")
)
