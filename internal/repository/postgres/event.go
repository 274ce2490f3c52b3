package postgres

import (
	"context"

	"github.com/google/uuid"

	"ecycle/internal/domain"
	"ecycle/pkg/errors"
)

// AppendEvent inserts one immutable audit trail entry. There is no
// update or delete path for lifecycle_events anywhere in the codebase.
func (u *unitOfWork) AppendEvent(ctx context.Context, e *domain.LifecycleEvent) error {
	query := `
		INSERT INTO lifecycle_events (
			id, device_id, prior_state, new_state, actor_id, actor_role,
			kind, metadata, created_at
		) VALUES (
			:id, :device_id, :prior_state, :new_state, :actor_id, :actor_role,
			:kind, :metadata, :created_at
		)
	`
	_, err := u.tx.NamedExecContext(ctx, query, e)
	return errors.Wrap(err, "failed to append lifecycle event")
}

// EventsByDevice returns a device's audit trail, newest first.
func (s *Store) EventsByDevice(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*domain.LifecycleEvent, error) {
	var events []*domain.LifecycleEvent
	query := `
		SELECT * FROM lifecycle_events
		WHERE device_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	err := s.db.SelectContext(ctx, &events, query, deviceID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list lifecycle events")
	}
	return events, nil
}
