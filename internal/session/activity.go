package session

import (
	"sync"
	"time"

	"session-service/internal/clock"
)

// Signal is one user interaction observed by the UI layer.
type Signal int

const (
	SignalPointerDown Signal = iota
	SignalPointerMove
	SignalKeyPress
	SignalKeyDown
	SignalScroll
	SignalTouchStart
	SignalClick
	// SignalVisible fires when the application becomes visible again;
	// it always counts as activity regardless of the throttle window.
	SignalVisible
)

func (s Signal) String() string {
	switch s {
	case SignalPointerDown:
		return "pointer-down"
	case SignalPointerMove:
		return "pointer-move"
	case SignalKeyPress:
		return "key-press"
	case SignalKeyDown:
		return "key-down"
	case SignalScroll:
		return "scroll"
	case SignalTouchStart:
		return "touch-start"
	case SignalClick:
		return "click"
	case SignalVisible:
		return "visible"
	}
	return "unknown"
}

// ParseSignal maps an interaction name from the wire to its Signal.
func ParseSignal(name string) (Signal, bool) {
	switch name {
	case "pointer-down":
		return SignalPointerDown, true
	case "pointer-move":
		return SignalPointerMove, true
	case "key-press":
		return SignalKeyPress, true
	case "key-down":
		return SignalKeyDown, true
	case "scroll":
		return SignalScroll, true
	case "touch-start":
		return SignalTouchStart, true
	case "click":
		return SignalClick, true
	case "visible":
		return SignalVisible, true
	}
	return 0, false
}

// Monitor consumes interaction signals and forwards them to the controller
// as activity, throttled to one store write per rolling window so continuous
// input (pointer movement) cannot flood storage. Stop releases the consuming
// goroutine; stopping twice is a no-op.
type Monitor struct {
	ctrl     *Controller
	clk      clock.Clock
	throttle time.Duration

	mu          sync.Mutex
	lastForward time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMonitor starts consuming signals immediately. A closed signal channel
// also terminates the monitor.
func NewMonitor(ctrl *Controller, signals <-chan Signal, throttle time.Duration, clk clock.Clock) *Monitor {
	if throttle <= 0 {
		throttle = time.Second
	}
	if clk == nil {
		clk = clock.System()
	}
	m := &Monitor{
		ctrl:     ctrl,
		clk:      clk,
		throttle: throttle,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run(signals)
	return m
}

func (m *Monitor) run(signals <-chan Signal) {
	defer close(m.done)
	for {
		select {
		case signal, ok := <-signals:
			if !ok {
				return
			}
			m.handle(signal)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) handle(signal Signal) {
	now := m.clk.Now()

	m.mu.Lock()
	if signal != SignalVisible && !m.lastForward.IsZero() && now.Sub(m.lastForward) < m.throttle {
		m.mu.Unlock()
		return
	}
	m.lastForward = now
	m.mu.Unlock()

	m.ctrl.RecordActivity()
}

// Stop detaches the monitor and waits for its goroutine to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}
