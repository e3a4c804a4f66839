package entitlement

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("subscription not found")
	ErrNotOwner            = errors.New("not the subscription owner")
	ErrRenewalDisabled     = errors.New("renewal price not set")
	ErrNoDevices           = errors.New("no connected devices")
	ErrLastDeviceProtected = errors.New("the last connected device cannot be removed")
	ErrDeviceNotFound      = errors.New("device not found")
	ErrSelfTransfer        = errors.New("cannot transfer a subscription to its current owner")
	ErrTransferRaced       = errors.New("transfer lost to a concurrent owner change")
	ErrTransferNotFound    = errors.New("pending transfer not found")
)

// QuotaExceededError reports that the rolling device-removal quota is spent.
type QuotaExceededError struct {
	DaysRemaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("device removal quota exceeded, resets in %d days", e.DaysRemaining)
}

// CooldownError reports that the subscription's transfer cooldown is active.
type CooldownError struct {
	DaysRemaining int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("transfer on cooldown for another %d days", e.DaysRemaining)
}
