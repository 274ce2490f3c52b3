// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Device errors
	ErrDeviceNotFound = errors.New("device not found")

	// Lifecycle errors
	ErrUnknownState      = errors.New("unknown lifecycle state")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrRoleForbidden     = errors.New("role not permitted for transition")
	ErrAlreadyTerminal   = errors.New("device is in terminal state")

	// Handover verification errors
	ErrVerificationRequired  = errors.New("handover verification code required")
	ErrVerificationFailed    = errors.New("handover verification code mismatch")
	ErrVerificationLockedOut = errors.New("handover verification locked after too many attempts")
	ErrNoPendingHandover     = errors.New("no handover code pending for device")

	// Reward errors
	ErrRewardExists   = errors.New("reward already issued for device")
	ErrRewardNotFound = errors.New("reward not found")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
