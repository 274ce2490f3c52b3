package reward

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecycle/internal/domain"
	"ecycle/pkg/errors"
	"ecycle/pkg/logger"
)

// fakeRewardStore enforces the per-device unique constraint the way the
// database does, under a lock so concurrent Issue calls race for real.
type fakeRewardStore struct {
	mu       sync.Mutex
	byDevice map[uuid.UUID]*domain.Reward
}

func newFakeRewardStore() *fakeRewardStore {
	return &fakeRewardStore{byDevice: make(map[uuid.UUID]*domain.Reward)}
}

func (s *fakeRewardStore) InsertReward(ctx context.Context, r *domain.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byDevice[r.DeviceID]; exists {
		return errors.ErrRewardExists
	}
	cp := *r
	s.byDevice[r.DeviceID] = &cp
	return nil
}

func (s *fakeRewardStore) RewardByDevice(ctx context.Context, deviceID uuid.UUID) (*domain.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byDevice[deviceID]
	if !ok {
		return nil, errors.ErrRewardNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeRewardStore) RewardsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reward
	for _, r := range s.byDevice {
		if r.OwnerID == ownerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestIssue_CreatesReward(t *testing.T) {
	store := newFakeRewardStore()
	issuer := NewIssuer(store, logger.NewNop())
	ownerID := uuid.New()
	deviceID := uuid.New()

	r, created, err := issuer.Issue(context.Background(), store, ownerID, deviceID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, deviceID, r.DeviceID)
	assert.Equal(t, ownerID, r.OwnerID)
	assert.True(t, r.Amount.Equal(Amount))
}

func TestIssue_DuplicateTriggerReturnsExisting(t *testing.T) {
	store := newFakeRewardStore()
	issuer := NewIssuer(store, logger.NewNop())
	ownerID := uuid.New()
	deviceID := uuid.New()

	first, created, err := issuer.Issue(context.Background(), store, ownerID, deviceID)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := issuer.Issue(context.Background(), store, ownerID, deviceID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID, "duplicate trigger must observe the original reward")
}

func TestIssue_ExactlyOnceUnderConcurrency(t *testing.T) {
	store := newFakeRewardStore()
	issuer := NewIssuer(store, logger.NewNop())
	ownerID := uuid.New()
	deviceID := uuid.New()

	const workers = 32

	var wg sync.WaitGroup
	results := make([]*domain.Reward, workers)
	createdFlags := make([]bool, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], createdFlags[i], errs[i] = issuer.Issue(context.Background(), store, ownerID, deviceID)
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].ID, results[i].ID, "every caller must observe the same reward")
		if createdFlags[i] {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount, "exactly one caller creates the reward")

	rewards, err := store.RewardsByOwner(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Len(t, rewards, 1)
}

func TestForOwner_ListsRewards(t *testing.T) {
	store := newFakeRewardStore()
	issuer := NewIssuer(store, logger.NewNop())
	ownerID := uuid.New()

	for i := 0; i < 3; i++ {
		_, _, err := issuer.Issue(context.Background(), store, ownerID, uuid.New())
		require.NoError(t, err)
	}
	_, _, err := issuer.Issue(context.Background(), store, uuid.New(), uuid.New())
	require.NoError(t, err)

	rewards, err := issuer.ForOwner(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Len(t, rewards, 3)
}
