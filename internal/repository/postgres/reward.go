package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ecycle/internal/domain"
	"ecycle/pkg/errors"
)

// InsertReward inserts the reward row for a device. The unique index on
// device_id turns duplicate triggers into ErrRewardExists, which the
// issuer resolves by fetching the existing row.
func (u *unitOfWork) InsertReward(ctx context.Context, r *domain.Reward) error {
	query := `
		INSERT INTO rewards (
			id, device_id, owner_id, amount, created_at
		) VALUES (
			:id, :device_id, :owner_id, :amount, :created_at
		)
	`
	_, err := u.tx.NamedExecContext(ctx, query, r)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return errors.ErrRewardExists
		}
		return errors.Wrap(err, "failed to insert reward")
	}
	return nil
}

func (u *unitOfWork) RewardByDevice(ctx context.Context, deviceID uuid.UUID) (*domain.Reward, error) {
	reward := &domain.Reward{}
	query := `SELECT * FROM rewards WHERE device_id = $1`
	err := u.tx.GetContext(ctx, reward, query, deviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrRewardNotFound
		}
		return nil, errors.Wrap(err, "failed to find reward by device")
	}
	return reward, nil
}

// RewardsByOwner lists every reward granted to an owner, newest first.
func (s *Store) RewardsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Reward, error) {
	var rewards []*domain.Reward
	query := `SELECT * FROM rewards WHERE owner_id = $1 ORDER BY created_at DESC`
	err := s.db.SelectContext(ctx, &rewards, query, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list rewards by owner")
	}
	return rewards, nil
}
