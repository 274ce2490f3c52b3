package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"ecycle/internal/domain"
	"ecycle/pkg/errors"
)

func (u *unitOfWork) CreateDevice(ctx context.Context, d *domain.Device) error {
	query := `
		INSERT INTO devices (
			id, owner_id, name, category, state, code_hash, code_plain,
			failed_attempts, terminal, created_at, updated_at
		) VALUES (
			:id, :owner_id, :name, :category, :state, :code_hash, :code_plain,
			:failed_attempts, :terminal, :created_at, :updated_at
		)
	`
	_, err := u.tx.NamedExecContext(ctx, query, d)
	return errors.Wrap(err, "failed to create device")
}

// DeviceForUpdate loads a device under a row lock. Concurrent
// transitions against the same device queue here; devices are
// independent rows so there is no cross-device contention.
func (u *unitOfWork) DeviceForUpdate(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	device := &domain.Device{}
	query := `SELECT * FROM devices WHERE id = $1 FOR UPDATE`
	err := u.tx.GetContext(ctx, device, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrDeviceNotFound
		}
		return nil, errors.Wrap(err, "failed to lock device")
	}
	return device, nil
}

func (u *unitOfWork) UpdateDevice(ctx context.Context, d *domain.Device) error {
	query := `
		UPDATE devices SET
			state = :state,
			code_hash = :code_hash,
			code_plain = :code_plain,
			failed_attempts = :failed_attempts,
			terminal = :terminal,
			updated_at = :updated_at
		WHERE id = :id
	`
	_, err := u.tx.NamedExecContext(ctx, query, d)
	return errors.Wrap(err, "failed to update device")
}

// Device returns a device snapshot without locking.
func (s *Store) Device(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	device := &domain.Device{}
	query := `SELECT * FROM devices WHERE id = $1`
	err := s.db.GetContext(ctx, device, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrDeviceNotFound
		}
		return nil, errors.Wrap(err, "failed to find device by id")
	}
	return device, nil
}

// DevicesByOwner lists an owner's devices, newest first.
func (s *Store) DevicesByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Device, error) {
	var devices []*domain.Device
	query := `SELECT * FROM devices WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &devices, query, ownerID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find devices by owner")
	}
	return devices, nil
}
