package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecycle/internal/domain"
	"ecycle/internal/reward"
	"ecycle/internal/verification"
	"ecycle/pkg/errors"
	"ecycle/pkg/logger"
)

// --- Fake store ---

// fakeStore is an in-memory Store with transactional semantics: a
// failed InTx restores the pre-transaction snapshot, mirroring a
// rollback.
type fakeStore struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*domain.Device
	events  []*domain.LifecycleEvent
	rewards map[uuid.UUID]*domain.Reward
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices: make(map[uuid.UUID]*domain.Device),
		rewards: make(map[uuid.UUID]*domain.Reward),
	}
}

func copyDevice(d *domain.Device) *domain.Device {
	c := *d
	if d.CodeHash != nil {
		h := *d.CodeHash
		c.CodeHash = &h
	}
	if d.CodePlain != nil {
		p := *d.CodePlain
		c.CodePlain = &p
	}
	return &c
}

func (s *fakeStore) InTx(ctx context.Context, fn func(uow UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devicesBefore := make(map[uuid.UUID]*domain.Device, len(s.devices))
	for id, d := range s.devices {
		devicesBefore[id] = copyDevice(d)
	}
	eventsBefore := len(s.events)
	rewardsBefore := make(map[uuid.UUID]*domain.Reward, len(s.rewards))
	for id, r := range s.rewards {
		cp := *r
		rewardsBefore[id] = &cp
	}

	if err := fn(&fakeUow{store: s}); err != nil {
		s.devices = devicesBefore
		s.events = s.events[:eventsBefore]
		s.rewards = rewardsBefore
		return err
	}
	return nil
}

func (s *fakeStore) Device(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, errors.ErrDeviceNotFound
	}
	return copyDevice(d), nil
}

func (s *fakeStore) DevicesByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Device
	for _, d := range s.devices {
		if d.OwnerID == ownerID {
			out = append(out, copyDevice(d))
		}
	}
	return out, nil
}

func (s *fakeStore) EventsByDevice(ctx context.Context, deviceID uuid.UUID, limit, offset int) ([]*domain.LifecycleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.LifecycleEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].DeviceID == deviceID {
			out = append(out, s.events[i])
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// eventKinds lists the kinds of all stored events for a device, oldest
// first.
func (s *fakeStore) eventKinds(deviceID uuid.UUID) []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []domain.EventKind
	for _, e := range s.events {
		if e.DeviceID == deviceID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func (s *fakeStore) stored(deviceID uuid.UUID) *domain.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDevice(s.devices[deviceID])
}

type fakeUow struct {
	store *fakeStore
}

func (u *fakeUow) CreateDevice(ctx context.Context, d *domain.Device) error {
	u.store.devices[d.ID] = copyDevice(d)
	return nil
}

func (u *fakeUow) DeviceForUpdate(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	d, ok := u.store.devices[id]
	if !ok {
		return nil, errors.ErrDeviceNotFound
	}
	return copyDevice(d), nil
}

func (u *fakeUow) UpdateDevice(ctx context.Context, d *domain.Device) error {
	u.store.devices[d.ID] = copyDevice(d)
	return nil
}

func (u *fakeUow) AppendEvent(ctx context.Context, e *domain.LifecycleEvent) error {
	cp := *e
	u.store.events = append(u.store.events, &cp)
	return nil
}

func (u *fakeUow) InsertReward(ctx context.Context, r *domain.Reward) error {
	if _, exists := u.store.rewards[r.DeviceID]; exists {
		return errors.ErrRewardExists
	}
	cp := *r
	u.store.rewards[r.DeviceID] = &cp
	return nil
}

func (u *fakeUow) RewardByDevice(ctx context.Context, deviceID uuid.UUID) (*domain.Reward, error) {
	r, ok := u.store.rewards[deviceID]
	if !ok {
		return nil, errors.ErrRewardNotFound
	}
	cp := *r
	return &cp, nil
}

// fakeLedger satisfies reward.Ledger; the engine tests never read it.
type fakeLedger struct{}

func (fakeLedger) RewardsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Reward, error) {
	return nil, nil
}

// --- Helpers ---

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc := NewService(
		store,
		verification.NewManager(),
		reward.NewIssuer(fakeLedger{}, logger.NewNop()),
		logger.NewNop(),
		5*time.Second,
	)
	return svc, store
}

func registerDevice(t *testing.T, svc *Service, ownerID uuid.UUID) *domain.Device {
	t.Helper()
	d, err := svc.Register(context.Background(), ownerID, "old laptop", domain.CategoryLegacy)
	require.NoError(t, err)
	return d
}

// advance drives the device through legal steps, failing the test on
// any rejection.
func advance(t *testing.T, svc *Service, deviceID uuid.UUID, target domain.DeviceState, actor domain.ActingUser, code string) *domain.Device {
	t.Helper()
	d, err := svc.Transition(context.Background(), deviceID, target, actor, code)
	require.NoError(t, err)
	return d
}

// --- Tests ---

func TestRegister_CreatesDeviceAndRegistrationEvent(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()

	d := registerDevice(t, svc, ownerID)

	assert.Equal(t, domain.StateActive, d.State)
	assert.Equal(t, ownerID, d.OwnerID)
	assert.False(t, d.Terminal)
	assert.Nil(t, d.CodeHash)

	kinds := store.eventKinds(d.ID)
	require.Len(t, kinds, 1)
	assert.Equal(t, domain.EventRegistration, kinds[0])

	events, err := svc.ListEvents(context.Background(), d.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].PriorState)
	assert.Equal(t, domain.StateActive, events[0].NewState)
}

func TestTransition_FullRecyclingScenario(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	owner := domain.ActingUser{ID: ownerID, Role: domain.RoleOwner}
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}
	recycler := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRecycler}

	d := registerDevice(t, svc, ownerID)

	// Owner opens the handover cycle; a fresh code is attached.
	d = advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")
	require.NotNil(t, d.CodePlain)
	code := *d.CodePlain

	advance(t, svc, d.ID, domain.StateCollectorAssigned, recycler, "")

	// Both custody handovers are gated on the same cycle code.
	advance(t, svc, d.ID, domain.StateCollected, collector, code)
	advance(t, svc, d.ID, domain.StateDeliveredToRecycler, recycler, code)

	// Delivery triggers the reward exactly once.
	rw, ok := store.rewards[d.ID]
	require.True(t, ok)
	assert.Equal(t, ownerID, rw.OwnerID)

	final := advance(t, svc, d.ID, domain.StateRecycled, recycler, "")
	assert.True(t, final.Terminal)
	assert.Nil(t, final.CodeHash, "code must be wiped at terminal state")
	assert.Nil(t, final.CodePlain)

	kinds := store.eventKinds(d.ID)
	assert.Equal(t, []domain.EventKind{
		domain.EventRegistration,
		domain.EventTransition, // RECYCLING_REQUESTED
		domain.EventTransition, // COLLECTOR_ASSIGNED
		domain.EventTransition, // COLLECTED
		domain.EventTransition, // DELIVERED_TO_RECYCLER
		domain.EventRewardIssued,
		domain.EventTransition, // RECYCLED
	}, kinds)
}

func TestTransition_FailedPickupRecovery(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	owner := domain.ActingUser{ID: ownerID, Role: domain.RoleOwner}
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}
	recycler := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRecycler}

	d := registerDevice(t, svc, ownerID)

	d = advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")
	firstCode := *d.CodePlain

	advance(t, svc, d.ID, domain.StateCollectorAssigned, recycler, "")
	advance(t, svc, d.ID, domain.StatePickupFailed, collector, "")

	// Re-entry into the request queue starts a new cycle with a new code.
	d = advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")
	secondCode := *d.CodePlain

	advance(t, svc, d.ID, domain.StateCollectorAssigned, recycler, "")

	if firstCode != secondCode {
		_, err := svc.Transition(context.Background(), d.ID, domain.StateCollected, collector, firstCode)
		assert.ErrorIs(t, err, errors.ErrVerificationFailed, "stale code must not survive a failed pickup")
	}

	final := advance(t, svc, d.ID, domain.StateCollected, collector, secondCode)
	assert.Equal(t, domain.StateCollected, final.State)
	assert.Equal(t, 0, store.stored(d.ID).FailedAttempts, "successful verification resets the counter")
}

func TestTransition_RoleGateLeavesStateUnchanged(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}

	d := registerDevice(t, svc, ownerID)

	_, err := svc.Transition(context.Background(), d.ID, domain.StateRecyclingRequested, collector, "")
	assert.ErrorIs(t, err, errors.ErrRoleForbidden)

	assert.Equal(t, domain.StateActive, store.stored(d.ID).State)
	assert.Len(t, store.eventKinds(d.ID), 1, "rejected transition must not append an event")
}

func TestTransition_RegulatorIsReadOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ownerID := uuid.New()
	regulator := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRegulator}

	d := registerDevice(t, svc, ownerID)

	_, err := svc.Transition(context.Background(), d.ID, domain.StateRecyclingRequested, regulator, "")
	assert.ErrorIs(t, err, errors.ErrRoleForbidden)
}

func TestTransition_NonAdjacentTargetRejected(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}

	d := registerDevice(t, svc, ownerID)

	_, err := svc.Transition(context.Background(), d.ID, domain.StateCollected, collector, "123456")
	assert.ErrorIs(t, err, errors.ErrIllegalTransition)
	assert.Equal(t, domain.StateActive, store.stored(d.ID).State)
}

func TestTransition_OwnerMustOwnTheDevice(t *testing.T) {
	svc, _ := newTestService(t)
	ownerID := uuid.New()
	otherOwner := domain.ActingUser{ID: uuid.New(), Role: domain.RoleOwner}

	d := registerDevice(t, svc, ownerID)

	_, err := svc.Transition(context.Background(), d.ID, domain.StateRecyclingRequested, otherOwner, "")
	assert.ErrorIs(t, err, errors.ErrRoleForbidden)
}

func TestTransition_TerminalIsImmutable(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	owner := domain.ActingUser{ID: ownerID, Role: domain.RoleOwner}
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}
	recycler := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRecycler}

	d := registerDevice(t, svc, ownerID)
	d = advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")
	code := *d.CodePlain
	advance(t, svc, d.ID, domain.StateCollectorAssigned, recycler, "")
	advance(t, svc, d.ID, domain.StateCollected, collector, code)
	advance(t, svc, d.ID, domain.StateDeliveredToRecycler, recycler, code)
	advance(t, svc, d.ID, domain.StateRecycled, recycler, "")

	eventsBefore := len(store.eventKinds(d.ID))

	for _, target := range []domain.DeviceState{
		domain.StateActive, domain.StateRecyclingRequested, domain.StateDeliveredToRecycler,
	} {
		_, err := svc.Transition(context.Background(), d.ID, target, recycler, "")
		assert.ErrorIs(t, err, errors.ErrAlreadyTerminal)
	}

	assert.Len(t, store.eventKinds(d.ID), eventsBefore, "terminal rejections must not append events")
	assert.True(t, store.stored(d.ID).Terminal)
}

func TestTransition_VerificationRequiredForCustodyTargets(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	owner := domain.ActingUser{ID: ownerID, Role: domain.RoleOwner}
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}
	recycler := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRecycler}

	d := registerDevice(t, svc, ownerID)
	advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")
	advance(t, svc, d.ID, domain.StateCollectorAssigned, recycler, "")

	_, err := svc.Transition(context.Background(), d.ID, domain.StateCollected, collector, "")
	assert.ErrorIs(t, err, errors.ErrVerificationRequired)
	assert.Equal(t, domain.StateCollectorAssigned, store.stored(d.ID).State)
}

func TestTransition_CodeMismatchPersistsCounterButRejects(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	owner := domain.ActingUser{ID: ownerID, Role: domain.RoleOwner}
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}
	recycler := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRecycler}

	d := registerDevice(t, svc, ownerID)
	d = advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")
	code := *d.CodePlain
	advance(t, svc, d.ID, domain.StateCollectorAssigned, recycler, "")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	_, err := svc.Transition(context.Background(), d.ID, domain.StateCollected, collector, wrong)
	assert.ErrorIs(t, err, errors.ErrVerificationFailed)

	stored := store.stored(d.ID)
	assert.Equal(t, domain.StateCollectorAssigned, stored.State, "mismatch must not move the device")
	assert.Equal(t, 1, stored.FailedAttempts, "counter increment must survive the rejection")
	assert.Len(t, store.eventKinds(d.ID), 3, "mismatch must not append a transition event")
}

func TestTransition_LockoutThenOwnerRotation(t *testing.T) {
	svc, store := newTestService(t)
	ownerID := uuid.New()
	owner := domain.ActingUser{ID: ownerID, Role: domain.RoleOwner}
	collector := domain.ActingUser{ID: uuid.New(), Role: domain.RoleCollector}
	recycler := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRecycler}

	d := registerDevice(t, svc, ownerID)
	d = advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")
	code := *d.CodePlain
	advance(t, svc, d.ID, domain.StateCollectorAssigned, recycler, "")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < verification.MaxFailedAttempts; i++ {
		_, err := svc.Transition(context.Background(), d.ID, domain.StateCollected, collector, wrong)
		assert.ErrorIs(t, err, errors.ErrVerificationFailed)
	}
	assert.Equal(t, verification.MaxFailedAttempts, store.stored(d.ID).FailedAttempts)

	// Even the correct code is refused once locked.
	_, err := svc.Transition(context.Background(), d.ID, domain.StateCollected, collector, code)
	assert.ErrorIs(t, err, errors.ErrVerificationLockedOut)

	// Only a fresh code from the owner clears the lockout.
	fresh, err := svc.IssueHandoverCode(context.Background(), d.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, store.stored(d.ID).FailedAttempts)

	final := advance(t, svc, d.ID, domain.StateCollected, collector, fresh)
	assert.Equal(t, domain.StateCollected, final.State)
}

func TestTransition_DeviceNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	owner := domain.ActingUser{ID: uuid.New(), Role: domain.RoleOwner}

	_, err := svc.Transition(context.Background(), uuid.New(), domain.StateRecyclingRequested, owner, "")
	assert.ErrorIs(t, err, errors.ErrDeviceNotFound)
}

func TestIssueHandoverCode_Authorization(t *testing.T) {
	svc, _ := newTestService(t)
	ownerID := uuid.New()
	owner := domain.ActingUser{ID: ownerID, Role: domain.RoleOwner}
	recycler := domain.ActingUser{ID: uuid.New(), Role: domain.RoleRecycler}
	otherOwner := domain.ActingUser{ID: uuid.New(), Role: domain.RoleOwner}

	d := registerDevice(t, svc, ownerID)

	// No handover pending while the device is still active.
	_, err := svc.IssueHandoverCode(context.Background(), d.ID, owner)
	assert.ErrorIs(t, err, errors.ErrNoPendingHandover)

	advance(t, svc, d.ID, domain.StateRecyclingRequested, owner, "")

	_, err = svc.IssueHandoverCode(context.Background(), d.ID, recycler)
	assert.ErrorIs(t, err, errors.ErrRoleForbidden)

	_, err = svc.IssueHandoverCode(context.Background(), d.ID, otherOwner)
	assert.ErrorIs(t, err, errors.ErrRoleForbidden)

	code, err := svc.IssueHandoverCode(context.Background(), d.ID, owner)
	require.NoError(t, err)
	assert.Len(t, code, verification.CodeLength)
}

func TestListEvents_UnknownDevice(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ListEvents(context.Background(), uuid.New(), 10, 0)
	assert.ErrorIs(t, err, errors.ErrDeviceNotFound)
}
