package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"session-service/internal/clock"
	"session-service/internal/store"
)

func newTestMonitor(t *testing.T) (*Monitor, *Controller, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testStart)
	ctrl := NewController(store.NewMemoryStore(), Options{Clock: clk})
	ctrl.Create(nil)

	signals := make(chan Signal)
	monitor := NewMonitor(ctrl, signals, time.Second, clk)
	t.Cleanup(func() {
		monitor.Stop()
		ctrl.Close()
	})
	return monitor, ctrl, clk
}

func TestMonitorThrottlesRapidInput(t *testing.T) {
	monitor, ctrl, clk := newTestMonitor(t)

	activities := 0
	ctrl.OnActivity(func(_, _ time.Time) { activities++ })

	// A burst of pointer movement inside one throttle window forwards once.
	monitor.handle(SignalPointerMove)
	monitor.handle(SignalPointerMove)
	monitor.handle(SignalClick)
	assert.Equal(t, 1, activities)

	clk.Advance(time.Second)
	monitor.handle(SignalKeyDown)
	assert.Equal(t, 2, activities)
}

func TestMonitorVisibilityBypassesThrottle(t *testing.T) {
	monitor, ctrl, _ := newTestMonitor(t)

	activities := 0
	ctrl.OnActivity(func(_, _ time.Time) { activities++ })

	monitor.handle(SignalScroll)
	// Becoming visible counts as activity even inside the throttle window.
	monitor.handle(SignalVisible)
	assert.Equal(t, 2, activities)
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	clk := clock.NewFake(testStart)
	ctrl := NewController(store.NewMemoryStore(), Options{Clock: clk})
	ctrl.Create(nil)
	defer ctrl.Close()

	signals := make(chan Signal)
	monitor := NewMonitor(ctrl, signals, time.Second, clk)
	monitor.Stop()
	monitor.Stop()
}

func TestMonitorConsumesSignalChannel(t *testing.T) {
	clk := clock.NewFake(testStart)
	ctrl := NewController(store.NewMemoryStore(), Options{Clock: clk})
	ctrl.Create(nil)
	defer ctrl.Close()

	forwarded := make(chan struct{}, 1)
	ctrl.OnActivity(func(_, _ time.Time) { forwarded <- struct{}{} })

	signals := make(chan Signal, 1)
	monitor := NewMonitor(ctrl, signals, time.Second, clk)
	defer monitor.Stop()

	signals <- SignalClick
	select {
	case <-forwarded:
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not forwarded as activity")
	}
}
