package model

import (
	"fmt"
	"time"
)

const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleBanned = "banned"
)

// Account is an opaque billing identity holding a monetary balance.
// Accounts are created on first contact and never deleted; misbehaving
// accounts are soft-banned via Role.
type Account struct {
	ID           string     `json:"id"`
	BalanceCents int64      `json:"balance_cents"`
	Role         string     `json:"role"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Subscription is a time-boxed access grant. Its ID matches the remote
// directory's entitlement identifier and is stable for the entitlement's
// lifetime. Prices are locally owned business data the remote side does
// not know about; a nil RenewalPriceCents disables renewal.
type Subscription struct {
	ID                 string     `json:"id"`
	AccountID          string     `json:"account_id"`
	DisplayName        string     `json:"display_name"`
	PurchasePriceCents int64      `json:"purchase_price_cents"`
	RenewalPriceCents  *int64     `json:"renewal_price_cents"`
	ExpiresAt          time.Time  `json:"expires_at"`
	RemovalCount       int        `json:"removal_count"`
	RemovalWindowAt    *time.Time `json:"removal_window_at,omitempty"`
	LastTransferAt     *time.Time `json:"last_transfer_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PendingTransfer is the persisted context of an in-flight ownership
// transfer, keyed by subscription. ExpectedTransferAt captures the
// subscription's last-transfer timestamp as observed at initiation; the
// owner swap only commits if it is still current.
type PendingTransfer struct {
	ID                 string     `json:"id"`
	SubscriptionID     string     `json:"subscription_id"`
	InitiatorID        string     `json:"initiator_id"`
	ExpectedTransferAt *time.Time `json:"expected_transfer_at,omitempty"`
	ExpiresAt          time.Time  `json:"expires_at"`
	CreatedAt          time.Time  `json:"created_at"`
}

// FormatCents renders an integer cent amount as a fixed-point decimal string.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
