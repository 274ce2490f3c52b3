// Package verification manages the one-time Device Unique Code (DUC)
// that proves physical custody changed hands at a handover.
package verification

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"ecycle/internal/domain"
	"ecycle/pkg/errors"
)

const (
	// CodeLength is the number of digits in a handover code.
	CodeLength = 6

	// MaxFailedAttempts is the fail-closed lockout threshold. Once a
	// device's counter reaches it, verification refuses even a correct
	// code until a fresh code is issued.
	MaxFailedAttempts = 3
)

var codeSpace = big.NewInt(1_000_000)

// Manager generates and checks handover codes. All persistence happens
// through the lifecycle engine's transaction; Manager only mutates the
// in-memory device record it is handed, which the engine holds under a
// row lock.
type Manager struct {
	hashCost int
}

func NewManager() *Manager {
	return &Manager{hashCost: bcrypt.DefaultCost}
}

// Issue attaches a fresh 6-digit code to the device: the salted hash
// and the plaintext (owner side channel) are stored and the
// failed-attempt counter resets. Codes are never reused across cycles.
func (m *Manager) Issue(d *domain.Device) (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate handover code")
	}
	plain := fmt.Sprintf("%06d", n.Int64())

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), m.hashCost)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash handover code")
	}

	hashStr := string(hash)
	d.CodeHash = &hashStr
	d.CodePlain = &plain
	d.FailedAttempts = 0

	return plain, nil
}

// Verify checks a supplied code against the device's stored hash.
// The lockout check runs first regardless of code correctness, a
// mismatch increments the counter, and a match resets it. The caller
// must hold the device row lock and persist the mutated counter in the
// same transaction, which makes the check-and-increment atomic per
// device.
func (m *Manager) Verify(d *domain.Device, supplied string) error {
	if d.CodeHash == nil {
		return errors.ErrNoPendingHandover
	}
	if d.FailedAttempts >= MaxFailedAttempts {
		return errors.ErrVerificationLockedOut
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*d.CodeHash), []byte(supplied)); err != nil {
		d.FailedAttempts++
		return errors.ErrVerificationFailed
	}

	d.FailedAttempts = 0
	return nil
}

// Clear removes the handover code from a device once the custody chain
// completes; no handover is pending past the terminal state.
func (m *Manager) Clear(d *domain.Device) {
	d.CodeHash = nil
	d.CodePlain = nil
	d.FailedAttempts = 0
}
