package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ecycle/internal/domain"
	"ecycle/internal/reward"
	"ecycle/internal/verification"
	"ecycle/pkg/errors"
	"ecycle/pkg/logger"
)

// UnitOfWork is the transactional view of the store. Every method runs
// inside the transaction opened by Store.InTx; DeviceForUpdate takes a
// row lock so concurrent transitions on the same device are linearized.
type UnitOfWork interface {
	CreateDevice(ctx context.Context, d *domain.Device) error
	DeviceForUpdate(ctx context.Context, id uuid.UUID) (*domain.Device, error)
	UpdateDevice(ctx context.Context, d *domain.Device) error
	AppendEvent(ctx context.Context, e *domain.LifecycleEvent) error
	InsertReward(ctx context.Context, r *domain.Reward) error
	RewardByDevice(ctx context.Context, deviceID uuid.UUID) (*domain.Reward, error)
}

// Store is the persistence collaborator for the lifecycle engine.
// InTx commits only if fn returns nil; any error or context
// cancellation rolls the whole unit back.
type Store interface {
	InTx(ctx context.Context, fn func(uow UnitOfWork) error) error
	Device(ctx context.Context, id uuid.UUID) (*domain.Device, error)
	DevicesByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Device, error)
	EventsByDevice(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*domain.LifecycleEvent, error)
}

// Service is the lifecycle engine: it validates and applies custody
// state transitions, gates physical handovers on the one-time code,
// appends the audit trail, and triggers reward issuance.
type Service struct {
	store     Store
	codes     *verification.Manager
	rewards   *reward.Issuer
	logger    logger.Logger
	txTimeout time.Duration
}

func NewService(store Store, codes *verification.Manager, rewards *reward.Issuer, log logger.Logger, txTimeout time.Duration) *Service {
	return &Service{
		store:     store,
		codes:     codes,
		rewards:   rewards,
		logger:    log,
		txTimeout: txTimeout,
	}
}

// Register creates a device in the initial ACTIVE state together with
// its registration event. Devices are never deleted afterwards.
func (s *Service) Register(ctx context.Context, ownerID uuid.UUID, name string, category domain.DeviceCategory) (*domain.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	now := time.Now().UTC()
	device := &domain.Device{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		Category:  category,
		State:     domain.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.InTx(ctx, func(uow UnitOfWork) error {
		if err := uow.CreateDevice(ctx, device); err != nil {
			return err
		}
		return uow.AppendEvent(ctx, &domain.LifecycleEvent{
			ID:         uuid.New(),
			DeviceID:   device.ID,
			PriorState: nil,
			NewState:   domain.StateActive,
			ActorID:    ownerID,
			ActorRole:  domain.RoleOwner,
			Kind:       domain.EventRegistration,
			Metadata:   domain.Metadata{"name": name, "category": string(category)},
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Device registered", map[string]interface{}{
		"device_id": device.ID,
		"owner_id":  ownerID,
		"category":  category,
	})

	return device, nil
}

// Transition moves a device to the requested state on behalf of the
// acting user. The state read, policy check, code verification, state
// write, audit append and reward trigger all run in one transaction
// under a row lock on the device, so the outcome is all-or-nothing and
// concurrent requests against the same device are serialized.
func (s *Service) Transition(ctx context.Context, deviceID uuid.UUID, target domain.DeviceState, actor domain.ActingUser, code string) (*domain.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var (
		device *domain.Device
		// A code mismatch rejects the transition but its counter
		// increment must still commit, otherwise lockout never
		// arms. The transaction therefore commits with only the
		// counter written and the rejection is surfaced afterwards.
		codeMismatch bool
	)

	err := s.store.InTx(ctx, func(uow UnitOfWork) error {
		d, err := uow.DeviceForUpdate(ctx, deviceID)
		if err != nil {
			return err
		}

		if d.Terminal {
			return errors.ErrAlreadyTerminal
		}

		if err := Check(d.State, target, actor.Role); err != nil {
			return err
		}
		// Owner edges are personal: the requesting owner must own
		// this device, not just hold the owner role.
		if actor.Role == domain.RoleOwner && actor.ID != d.OwnerID {
			return errors.ErrRoleForbidden
		}

		meta := domain.Metadata{}

		if target.CustodySensitive() {
			if code == "" {
				return errors.ErrVerificationRequired
			}
			if err := s.codes.Verify(d, code); err != nil {
				if err == errors.ErrVerificationFailed {
					if uerr := uow.UpdateDevice(ctx, d); uerr != nil {
						return uerr
					}
					codeMismatch = true
					return nil
				}
				return err
			}
			meta["handover_verified"] = true
		}

		prior := d.State

		if target.IssuesHandoverCode() {
			if _, err := s.codes.Issue(d); err != nil {
				return err
			}
			meta["handover_code_issued"] = true
		}

		if target.Terminal() {
			d.Terminal = true
			s.codes.Clear(d)
		}

		d.State = target
		d.UpdatedAt = time.Now().UTC()

		if err := uow.UpdateDevice(ctx, d); err != nil {
			return err
		}

		if err := uow.AppendEvent(ctx, &domain.LifecycleEvent{
			ID:         uuid.New(),
			DeviceID:   d.ID,
			PriorState: &prior,
			NewState:   target,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Kind:       domain.EventTransition,
			Metadata:   meta,
			CreatedAt:  d.UpdatedAt,
		}); err != nil {
			return err
		}

		if target == domain.StateDeliveredToRecycler {
			rw, created, err := s.rewards.Issue(ctx, uow, d.OwnerID, d.ID)
			if err != nil {
				return err
			}
			if created {
				if err := uow.AppendEvent(ctx, &domain.LifecycleEvent{
					ID:         uuid.New(),
					DeviceID:   d.ID,
					PriorState: &prior,
					NewState:   target,
					ActorID:    actor.ID,
					ActorRole:  actor.Role,
					Kind:       domain.EventRewardIssued,
					Metadata:   domain.Metadata{"reward_id": rw.ID.String(), "amount": rw.Amount.String()},
					CreatedAt:  d.UpdatedAt,
				}); err != nil {
					return err
				}
			}
		}

		device = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	if codeMismatch {
		return nil, errors.ErrVerificationFailed
	}

	s.logger.Info("Device transitioned", map[string]interface{}{
		"device_id":  deviceID,
		"new_state":  target,
		"actor_id":   actor.ID,
		"actor_role": actor.Role,
	})

	return device, nil
}

// IssueHandoverCode rotates the pending handover code for a device.
// Only the owner may rotate, and only while the handover cycle is open
// (requested or collector assigned, before the first custody change).
// Rotation resets the failed-attempt counter, which is also the only
// way out of a verification lockout.
func (s *Service) IssueHandoverCode(ctx context.Context, deviceID uuid.UUID, actor domain.ActingUser) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var plain string

	err := s.store.InTx(ctx, func(uow UnitOfWork) error {
		d, err := uow.DeviceForUpdate(ctx, deviceID)
		if err != nil {
			return err
		}

		if actor.Role != domain.RoleOwner || actor.ID != d.OwnerID {
			return errors.ErrRoleForbidden
		}
		if d.State != domain.StateRecyclingRequested && d.State != domain.StateCollectorAssigned {
			return errors.ErrNoPendingHandover
		}

		plain, err = s.codes.Issue(d)
		if err != nil {
			return err
		}
		d.UpdatedAt = time.Now().UTC()

		if err := uow.UpdateDevice(ctx, d); err != nil {
			return err
		}

		prior := d.State
		return uow.AppendEvent(ctx, &domain.LifecycleEvent{
			ID:         uuid.New(),
			DeviceID:   d.ID,
			PriorState: &prior,
			NewState:   d.State,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Kind:       domain.EventCodeIssued,
			Metadata:   domain.Metadata{"rotated": true},
			CreatedAt:  d.UpdatedAt,
		})
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Handover code rotated", map[string]interface{}{
		"device_id": deviceID,
		"owner_id":  actor.ID,
	})

	return plain, nil
}

// GetDevice returns the current device snapshot.
func (s *Service) GetDevice(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	return s.store.Device(ctx, id)
}

// DevicesForOwner lists an owner's devices, newest first.
func (s *Service) DevicesForOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Device, error) {
	return s.store.DevicesByOwner(ctx, ownerID, limit, offset)
}

// ListEvents returns the append-only audit trail for a device, newest
// first.
func (s *Service) ListEvents(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*domain.LifecycleEvent, error) {
	if _, err := s.store.Device(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.EventsByDevice(ctx, deviceID, limit, offset)
}
