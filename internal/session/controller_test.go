package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-service/internal/clock"
	"session-service/internal/store"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestController(t *testing.T) (*Controller, *store.MemoryStore, *clock.Fake) {
	t.Helper()
	st := store.NewMemoryStore()
	clk := clock.NewFake(testStart)
	ctrl := NewController(st, Options{Clock: clk})
	t.Cleanup(ctrl.Close)
	return ctrl, st, clk
}

func TestCreateSession(t *testing.T) {
	ctrl, st, _ := newTestController(t)

	var createdIDs []string
	ctrl.OnCreated(func(sessionID string) { createdIDs = append(createdIDs, sessionID) })

	id := ctrl.Create(&ProfileFragment{ID: "u1", Email: "u1@example.com", Role: "customer"})
	require.NotEmpty(t, id)
	assert.Equal(t, []string{id}, createdIDs)
	assert.Len(t, id, 64) // 256 bits hex encoded
	assert.Equal(t, StateActive, ctrl.State())
	assert.True(t, ctrl.IsValid())

	stored, err := st.Get(context.Background(), store.KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, id, stored)

	profile := ctrl.Profile()
	require.NotNil(t, profile)
	assert.Equal(t, "u1", profile.ID)

	info := ctrl.Info()
	require.NotNil(t, info)
	assert.Equal(t, id, info.SessionID)
	assert.Equal(t, 30*time.Minute, info.RemainingIdle)
	assert.Equal(t, 8*time.Hour, info.RemainingAbsolute)
}

func TestIdleExpiryEndToEnd(t *testing.T) {
	ctrl, st, clk := newTestController(t)

	var warnings []int
	var expiries []ExpiryReason
	ctrl.OnWarning(func(remaining int) { warnings = append(warnings, remaining) })
	ctrl.OnExpired(func(reason ExpiryReason) { expiries = append(expiries, reason) })

	ctrl.Create(nil)

	// 25 minutes idle: exactly at the warning boundary, still quiet.
	clk.Advance(25 * time.Minute)
	ctrl.CheckNow()
	assert.Equal(t, StateActive, ctrl.State())
	assert.Empty(t, warnings)

	// One second past the boundary: a single warning with ~5 minutes left.
	clk.Advance(time.Second)
	ctrl.CheckNow()
	assert.Equal(t, StateWarning, ctrl.State())
	require.Equal(t, []int{5}, warnings)

	// The warning fires once per warning period.
	ctrl.CheckNow()
	assert.Equal(t, []int{5}, warnings)

	// Full idle timeout: expired, reason recorded, storage cleared.
	clk.Set(testStart.Add(30 * time.Minute))
	ctrl.CheckNow()
	assert.Equal(t, StateExpired, ctrl.State())
	require.Equal(t, []ExpiryReason{ReasonIdleTimeout}, expiries)
	assert.False(t, ctrl.IsValid())

	_, err := st.Get(context.Background(), store.KeySessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(context.Background(), store.KeyLastActivity)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAbsoluteTimeoutDominates(t *testing.T) {
	ctrl, _, clk := newTestController(t)

	var expiries []ExpiryReason
	ctrl.OnExpired(func(reason ExpiryReason) { expiries = append(expiries, reason) })

	ctrl.Create(nil)

	// Stay active right up to the absolute limit.
	for i := 0; i < 16; i++ {
		clk.Advance(29 * time.Minute)
		ctrl.RecordActivity()
		ctrl.CheckNow()
	}
	require.Equal(t, StateActive, ctrl.State())

	clk.Set(testStart.Add(8 * time.Hour))
	ctrl.CheckNow()
	assert.Equal(t, StateExpired, ctrl.State())
	assert.Equal(t, []ExpiryReason{ReasonAbsoluteTimeout}, expiries)
}

func TestWarningDismissedByActivityAndRearmed(t *testing.T) {
	ctrl, _, clk := newTestController(t)

	var warnings []int
	ctrl.OnWarning(func(remaining int) { warnings = append(warnings, remaining) })

	ctrl.Create(nil)

	clk.Advance(26 * time.Minute)
	ctrl.CheckNow()
	require.Len(t, warnings, 1)
	assert.Equal(t, StateWarning, ctrl.State())

	// Activity dismisses the warning and returns to active.
	ctrl.RecordActivity()
	assert.Equal(t, StateActive, ctrl.State())

	// The warning re-arms for the next idle period.
	clk.Advance(27 * time.Minute)
	ctrl.CheckNow()
	assert.Len(t, warnings, 2)
}

func TestRegeneratePreservesTimestamps(t *testing.T) {
	ctrl, st, clk := newTestController(t)

	var regenerations [][2]string
	ctrl.OnRegenerated(func(oldID, newID string) {
		regenerations = append(regenerations, [2]string{oldID, newID})
	})

	oldID := ctrl.Create(nil)
	clk.Advance(10 * time.Minute)

	startBefore, err := st.Get(context.Background(), store.KeyStartedAt)
	require.NoError(t, err)
	activityBefore, err := st.Get(context.Background(), store.KeyLastActivity)
	require.NoError(t, err)

	newID, err := ctrl.Regenerate()
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, newID, ctrl.SessionID())

	require.Len(t, regenerations, 1)
	assert.Equal(t, oldID, regenerations[0][0])
	assert.Equal(t, newID, regenerations[0][1])

	startAfter, err := st.Get(context.Background(), store.KeyStartedAt)
	require.NoError(t, err)
	activityAfter, err := st.Get(context.Background(), store.KeyLastActivity)
	require.NoError(t, err)
	assert.Equal(t, startBefore, startAfter)
	assert.Equal(t, activityBefore, activityAfter)
}

func TestRegenerateRequiresActiveSession(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	_, err := ctrl.Regenerate()
	assert.ErrorIs(t, err, ErrInvalidState)

	ctrl.Create(nil)
	ctrl.Invalidate()
	_, err = ctrl.Regenerate()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	ctrl, st, _ := newTestController(t)

	invalidations := 0
	ctrl.OnInvalidated(func() { invalidations++ })

	ctrl.Create(nil)
	ctrl.Invalidate()
	ctrl.Invalidate()

	assert.Equal(t, 1, invalidations)
	assert.Equal(t, StateInvalidated, ctrl.State())
	_, err := st.Get(context.Background(), store.KeySessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCrossTabActivityAdoption(t *testing.T) {
	ctrl, st, clk := newTestController(t)
	ctrl.Create(nil)

	// Another tab records activity 20 minutes in; this tab has been idle.
	clk.Advance(26 * time.Minute)
	otherTabActivity := testStart.Add(20 * time.Minute)
	require.NoError(t, st.Set(context.Background(), store.KeyLastActivity, formatMillis(otherTabActivity)))

	ctrl.CheckNow()

	// 26 minutes of wall time but only 6 minutes effective idle.
	assert.Equal(t, StateActive, ctrl.State())
	info := ctrl.Info()
	require.NotNil(t, info)
	assert.Equal(t, 6*time.Minute, info.IdleTime)
}

func TestRestoreValidSession(t *testing.T) {
	st := store.NewMemoryStore()
	clk := clock.NewFake(testStart)

	first := NewController(st, Options{Clock: clk})
	id := first.Create(&ProfileFragment{ID: "u1", Role: "shop_owner"})
	first.Close()

	clk.Advance(10 * time.Minute)
	second := NewController(st, Options{Clock: clk})
	t.Cleanup(second.Close)

	require.True(t, second.Restore())
	assert.Equal(t, id, second.SessionID())
	assert.Equal(t, StateActive, second.State())

	profile := second.Profile()
	require.NotNil(t, profile)
	assert.Equal(t, "shop_owner", profile.Role)

	// Restore extends silently: idle time restarts from now.
	info := second.Info()
	require.NotNil(t, info)
	assert.Equal(t, time.Duration(0), info.IdleTime)
	assert.Equal(t, 10*time.Minute, info.Age)
}

func TestRestoreExpiredSessionFailsClosed(t *testing.T) {
	st := store.NewMemoryStore()
	clk := clock.NewFake(testStart)

	first := NewController(st, Options{Clock: clk})
	first.Create(nil)
	first.Close()

	clk.Advance(31 * time.Minute)
	second := NewController(st, Options{Clock: clk})
	t.Cleanup(second.Close)

	assert.False(t, second.Restore())
	assert.Equal(t, StateUninitialized, second.State())
	_, err := st.Get(context.Background(), store.KeySessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRestoreWithoutPersistedSession(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	assert.False(t, ctrl.Restore())
	assert.Equal(t, StateUninitialized, ctrl.State())
}

// failingStore simulates disabled or quota-exhausted storage.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("storage disabled")
}
func (failingStore) Set(context.Context, string, string) error {
	return errors.New("storage disabled")
}
func (failingStore) Delete(context.Context, ...string) error {
	return errors.New("storage disabled")
}

func TestStorageFailureDegradesToMemory(t *testing.T) {
	clk := clock.NewFake(testStart)
	ctrl := NewController(failingStore{}, Options{Clock: clk})
	t.Cleanup(ctrl.Close)

	id := ctrl.Create(nil)
	require.NotEmpty(t, id)
	assert.True(t, ctrl.Degraded())
	assert.True(t, ctrl.IsValid())

	// The degraded controller still enforces timeouts.
	clk.Advance(31 * time.Minute)
	ctrl.CheckNow()
	assert.Equal(t, StateExpired, ctrl.State())
}

func TestUnsubscribeAndFaultySubscriberIsolation(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	calls := 0
	unsubscribe := ctrl.OnActivity(func(_, _ time.Time) { calls++ })
	ctrl.OnActivity(func(_, _ time.Time) { panic("faulty subscriber") })
	laterCalls := 0
	ctrl.OnActivity(func(_, _ time.Time) { laterCalls++ })

	ctrl.Create(nil)
	ctrl.RecordActivity()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, laterCalls)

	unsubscribe()
	unsubscribe() // second call is a no-op
	ctrl.RecordActivity()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, laterCalls)
}
