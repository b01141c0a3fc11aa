package service_test

import (
	"context"
	"errors"
	"sync"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"
	"time"

	"github.com/stretchr/testify/mock"
)

// ===== ВРЕМЯ =====

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ===== ХРАНИЛИЩА =====

var errRedisDown = errors.New("dial tcp 127.0.0.1:6379: connection refused")

// unavailableStore : KeyValueStore, у которого падает каждая операция
type unavailableStore struct{}

func (unavailableStore) IncrementWithExpiry(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

func (unavailableStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

func (unavailableStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

func (unavailableStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

func (unavailableStore) Delete(context.Context, ...string) error {
	return errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

func (unavailableStore) Exists(context.Context, string) (bool, error) {
	return false, errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

func (unavailableStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

func (unavailableStore) Keys(context.Context, string) ([]string, error) {
	return nil, errors.Join(ports.ErrStoreUnavailable, errRedisDown)
}

// fakeLockoutRepo : колонки блокировки таблицы users в памяти
type fakeLockoutRepo struct {
	mu     sync.Mutex
	states map[string]*model.LockoutState
	down   bool
}

func newFakeLockoutRepo() *fakeLockoutRepo {
	return &fakeLockoutRepo{states: make(map[string]*model.LockoutState)}
}

func (r *fakeLockoutRepo) SetDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

func (r *fakeLockoutRepo) state(userID string) *model.LockoutState {
	state, ok := r.states[userID]
	if !ok {
		state = &model.LockoutState{UserID: userID}
		r.states[userID] = state
	}
	return state
}

func (r *fakeLockoutRepo) GetLockoutState(_ context.Context, userID string) (*model.LockoutState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errors.New("pq: connection refused")
	}
	copied := *r.state(userID)
	return &copied, nil
}

func (r *fakeLockoutRepo) IncrementFailedAttempts(_ context.Context, userID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return 0, errors.New("pq: connection refused")
	}
	state := r.state(userID)
	state.FailedAttempts++
	state.LastFailureAt = &at
	return state.FailedAttempts, nil
}

func (r *fakeLockoutRepo) SetFailedAttempts(_ context.Context, userID string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errors.New("pq: connection refused")
	}
	r.state(userID).FailedAttempts = attempts
	return nil
}

func (r *fakeLockoutRepo) SetLockedUntil(_ context.Context, userID string, until *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errors.New("pq: connection refused")
	}
	r.state(userID).LockedUntil = until
	return nil
}

func (r *fakeLockoutRepo) ResetLockout(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errors.New("pq: connection refused")
	}
	state := r.state(userID)
	state.FailedAttempts = 0
	state.LockedUntil = nil
	return nil
}

// ===== MOCKS =====

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByUUID(ctx context.Context, uuid string) (*model.User, error) {
	args := m.Called(ctx, uuid)
	if u, ok := args.Get(0).(*model.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if u, ok := args.Get(0).(*model.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event model.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// recordingNotifier : запоминает события, когда точные аргументы не важны
type recordingNotifier struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event model.AuditEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	actions := make([]string, 0, len(n.events))
	for _, event := range n.events {
		actions = append(actions, event.Action)
	}
	return actions
}
