// Package reward grants the recycling incentive to device owners.
package reward

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ecycle/internal/domain"
	"ecycle/pkg/errors"
	"ecycle/pkg/logger"
)

// Amount is the fixed incentive per recycled device. Policy constant,
// never taken from request input.
var Amount = decimal.NewFromInt(50)

// Store is the slice of the transactional unit of work the issuer
// needs. InsertReward must fail with errors.ErrRewardExists when a
// reward row for the device already exists.
type Store interface {
	InsertReward(ctx context.Context, r *domain.Reward) error
	RewardByDevice(ctx context.Context, deviceID uuid.UUID) (*domain.Reward, error)
}

// Ledger provides read access to issued rewards outside a transaction.
type Ledger interface {
	RewardsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Reward, error)
}

// Issuer grants at most one reward per device.
type Issuer struct {
	ledger Ledger
	logger logger.Logger
}

func NewIssuer(ledger Ledger, log logger.Logger) *Issuer {
	return &Issuer{ledger: ledger, logger: log}
}

// Issue inserts the reward row keyed uniquely by device. On a
// uniqueness violation it fetches and returns the existing row, so
// every caller of a duplicate trigger observes the same reward rather
// than an error. Insert-or-fetch, not check-then-insert: the unique
// constraint, not a pre-read, is what serializes concurrent triggers.
// The returned flag reports whether this call created the row.
func (i *Issuer) Issue(ctx context.Context, store Store, ownerID, deviceID uuid.UUID) (*domain.Reward, bool, error) {
	r := &domain.Reward{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		OwnerID:   ownerID,
		Amount:    Amount,
		CreatedAt: time.Now().UTC(),
	}

	err := store.InsertReward(ctx, r)
	if err == nil {
		i.logger.Info("Reward issued", map[string]interface{}{
			"reward_id": r.ID,
			"device_id": deviceID,
			"owner_id":  ownerID,
			"amount":    Amount.String(),
		})
		return r, true, nil
	}

	if err != errors.ErrRewardExists {
		return nil, false, errors.Wrap(err, "failed to insert reward")
	}

	existing, fetchErr := store.RewardByDevice(ctx, deviceID)
	if fetchErr != nil {
		// The row was there a moment ago; losing it now means the
		// atomicity contract around issuance is broken.
		i.logger.Error("Reward row vanished after unique violation", map[string]interface{}{
			"device_id": deviceID,
			"error":     fetchErr.Error(),
		})
		return nil, false, errors.Wrap(fetchErr, "failed to fetch existing reward")
	}

	i.logger.Warn("Duplicate reward trigger absorbed", map[string]interface{}{
		"reward_id": existing.ID,
		"device_id": deviceID,
	})
	return existing, false, nil
}

// ForOwner lists every reward granted to an owner.
func (i *Issuer) ForOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Reward, error) {
	return i.ledger.RewardsByOwner(ctx, ownerID)
}
