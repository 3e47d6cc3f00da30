package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"session-service/internal/clock"
	"session-service/internal/policy"
	"session-service/internal/store"
	"session-service/internal/util"
)

// State of the session lifecycle machine. Expired and Invalidated are
// terminal for the session they end; Create starts a fresh one.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateWarning
	StateExpired
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	case StateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned by operations that require an active session.
var ErrInvalidState = errors.New("session: operation not allowed in current state")

// Options tunes the controller. Zero values fall back to production defaults.
type Options struct {
	Thresholds    policy.Thresholds
	CheckInterval time.Duration
	Clock         clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Thresholds == (policy.Thresholds{}) {
		o.Thresholds = policy.DefaultThresholds()
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = time.Minute
	}
	if o.Clock == nil {
		o.Clock = clock.System()
	}
	return o
}

// Info is a snapshot of the current session's timing.
type Info struct {
	SessionID         string        `json:"session_id"`
	State             string        `json:"state"`
	Age               time.Duration `json:"age"`
	IdleTime          time.Duration `json:"idle_time"`
	RemainingAbsolute time.Duration `json:"remaining_absolute"`
	RemainingIdle     time.Duration `json:"remaining_idle"`
}

// Controller owns the session identifier and drives the lifecycle state
// machine. All timer callbacks and consumer calls funnel through one mutex;
// events are emitted outside of it so subscribers may call back in.
type Controller struct {
	opts   Options
	events *events

	mu             sync.Mutex
	st             store.DurableStore
	degraded       bool
	state          State
	sessionID      string
	startedAt      time.Time
	lastActivityAt time.Time
	profile        *ProfileFragment
	warningShown   bool
	stopCheck      chan struct{}
	absTimer       *time.Timer
}

func NewController(st store.DurableStore, opts Options) *Controller {
	return &Controller{
		opts:   opts.withDefaults(),
		events: newEvents(),
		st:     st,
		state:  StateUninitialized,
	}
}

// Event subscriptions. Each returns a disposer for that registration.

func (c *Controller) OnCreated(fn func(sessionID string)) Unsubscribe {
	return c.events.onCreated(fn)
}

func (c *Controller) OnActivity(fn func(now, previous time.Time)) Unsubscribe {
	return c.events.onActivity(fn)
}

func (c *Controller) OnWarning(fn func(remainingMinutes int)) Unsubscribe {
	return c.events.onWarning(fn)
}

func (c *Controller) OnExpired(fn func(reason ExpiryReason)) Unsubscribe {
	return c.events.onExpired(fn)
}

func (c *Controller) OnRegenerated(fn func(oldID, newID string)) Unsubscribe {
	return c.events.onRegenerated(fn)
}

func (c *Controller) OnInvalidated(fn func()) Unsubscribe {
	return c.events.onInvalidated(fn)
}

// Restore loads a persisted session at bootstrap. A valid record is adopted
// and silently extended; anything absent, malformed or expired clears storage
// and leaves the controller uninitialized (fail closed).
func (c *Controller) Restore() bool {
	c.mu.Lock()

	id, ok := c.storeGetLocked(store.KeySessionID)
	startValue, okStart := c.storeGetLocked(store.KeyStartedAt)
	if !ok || !okStart {
		c.clearStorageLocked()
		c.mu.Unlock()
		return false
	}

	startedAt, err := parseMillis(startValue)
	if err != nil {
		c.clearStorageLocked()
		c.mu.Unlock()
		return false
	}

	lastActivityAt := startedAt
	if lastValue, okLast := c.storeGetLocked(store.KeyLastActivity); okLast {
		if parsed, err := parseMillis(lastValue); err == nil {
			lastActivityAt = parsed
		}
	}

	now := c.opts.Clock.Now()
	if policy.Evaluate(startedAt, lastActivityAt, now, c.opts.Thresholds).Expired() {
		util.Info("persisted session expired, clearing", util.String("session_id", shortID(id)))
		c.clearStorageLocked()
		c.mu.Unlock()
		return false
	}

	c.sessionID = id
	c.startedAt = startedAt
	c.lastActivityAt = now
	c.storeSetLocked(store.KeyLastActivity, formatMillis(now))
	if profileValue, okProfile := c.storeGetLocked(store.KeyProfile); okProfile {
		if profile, err := decodeProfile(profileValue); err == nil {
			c.profile = profile
		} else {
			util.Warn("discarding unreadable session profile", util.ErrorField(err))
		}
	}
	c.state = StateActive
	c.warningShown = false
	c.startMonitoringLocked()
	c.mu.Unlock()

	util.Info("restored persisted session", util.String("session_id", shortID(id)))
	return true
}

// Create starts a new session, replacing any current one. The profile, when
// given, is the sanitized identity fragment persisted alongside the session.
func (c *Controller) Create(profile *ProfileFragment) string {
	c.mu.Lock()
	c.stopMonitoringLocked()

	now := c.opts.Clock.Now()
	c.sessionID = NewSessionID()
	c.startedAt = now
	c.lastActivityAt = now
	c.profile = profile
	c.state = StateActive
	c.warningShown = false

	c.storeSetLocked(store.KeySessionID, c.sessionID)
	c.storeSetLocked(store.KeyStartedAt, formatMillis(now))
	c.storeSetLocked(store.KeyLastActivity, formatMillis(now))
	if profile != nil {
		if encoded, err := profile.encode(); err == nil {
			c.storeSetLocked(store.KeyProfile, encoded)
		}
	} else {
		c.storeDeleteLocked(store.KeyProfile)
	}

	c.startMonitoringLocked()
	id := c.sessionID
	c.mu.Unlock()

	util.Info("session created", util.String("session_id", shortID(id)))
	c.events.emitCreated(id)
	return id
}

// Regenerate rotates the session identifier, preserving the record's
// timestamps and profile. Consumers holding the old id re-attach via the
// regenerated event.
func (c *Controller) Regenerate() (string, error) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateWarning {
		c.mu.Unlock()
		return "", ErrInvalidState
	}

	oldID := c.sessionID
	newID := NewSessionID()
	c.sessionID = newID
	c.storeSetLocked(store.KeySessionID, newID)
	c.mu.Unlock()

	util.Info("session id regenerated",
		util.String("old_session_id", shortID(oldID)),
		util.String("new_session_id", shortID(newID)))
	c.events.emitRegenerated(oldID, newID)
	return newID, nil
}

// RecordActivity bumps the activity timestamp and writes it through to
// shared storage. A pending expiry warning is dismissed.
func (c *Controller) RecordActivity() {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateWarning {
		c.mu.Unlock()
		return
	}

	now := c.opts.Clock.Now()
	previous := c.lastActivityAt
	if now.After(c.lastActivityAt) {
		c.lastActivityAt = now
	}
	c.warningShown = false
	if c.state == StateWarning {
		c.state = StateActive
	}
	c.storeSetLocked(store.KeyLastActivity, formatMillis(c.lastActivityAt))
	c.mu.Unlock()

	c.events.emitActivity(now, previous)
}

// Extend renews the session on explicit user request.
func (c *Controller) Extend() {
	c.RecordActivity()
}

// Invalidate terminates the session on explicit logout. Idempotent: only the
// first call clears storage and emits the invalidated event.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateWarning {
		c.mu.Unlock()
		return
	}

	id := c.sessionID
	c.clearStorageLocked()
	c.stopMonitoringLocked()
	c.sessionID = ""
	c.profile = nil
	c.state = StateInvalidated
	c.mu.Unlock()

	util.Info("session invalidated", util.String("session_id", shortID(id)))
	c.events.emitInvalidated()
}

// CheckNow runs one lifecycle check: adopt cross-process activity, evaluate
// timeouts, raise the warning once per warning period, expire when due. The
// periodic timer calls this every check interval.
func (c *Controller) CheckNow() {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateWarning {
		c.mu.Unlock()
		return
	}

	c.adoptStoredActivityLocked()
	now := c.opts.Clock.Now()

	var after func()
	switch policy.Evaluate(c.startedAt, c.lastActivityAt, now, c.opts.Thresholds) {
	case policy.StatusValid:
		if c.state == StateWarning {
			c.state = StateActive
			c.warningShown = false
		}
	case policy.StatusWarning:
		if !c.warningShown {
			c.warningShown = true
			c.state = StateWarning
			remaining := policy.RemainingIdleMinutes(c.lastActivityAt, now, c.opts.Thresholds)
			after = func() {
				util.Info("session expiring soon", util.Int("remaining_minutes", remaining))
				c.events.emitWarning(remaining)
			}
		}
	case policy.StatusIdleExpired:
		after = c.expireLocked(ReasonIdleTimeout)
	case policy.StatusAbsoluteExpired:
		after = c.expireLocked(ReasonAbsoluteTimeout)
	}
	c.mu.Unlock()

	if after != nil {
		after()
	}
}

// IsValid reports whether the current session passes both timeouts.
func (c *Controller) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StateWarning {
		return false
	}
	now := c.opts.Clock.Now()
	return !policy.Evaluate(c.startedAt, c.lastActivityAt, now, c.opts.Thresholds).Expired()
}

// Info returns a timing snapshot, or nil when there is no valid session.
func (c *Controller) Info() *Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StateWarning {
		return nil
	}

	now := c.opts.Clock.Now()
	if policy.Evaluate(c.startedAt, c.lastActivityAt, now, c.opts.Thresholds).Expired() {
		return nil
	}
	return &Info{
		SessionID:         c.sessionID,
		State:             c.state.String(),
		Age:               now.Sub(c.startedAt),
		IdleTime:          now.Sub(c.lastActivityAt),
		RemainingAbsolute: policy.RemainingAbsolute(c.startedAt, now, c.opts.Thresholds),
		RemainingIdle:     policy.RemainingIdle(c.lastActivityAt, now, c.opts.Thresholds),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Profile returns the sanitized identity fragment of the current session.
func (c *Controller) Profile() *ProfileFragment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return nil
	}
	copied := *c.profile
	return &copied
}

// Degraded reports whether shared storage failed and the session is tracked
// in memory only.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Close stops all timers without touching storage or emitting events.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopMonitoringLocked()
}

// expireLocked transitions to the expired terminal state and returns the
// event emission to run once the lock is released.
func (c *Controller) expireLocked(reason ExpiryReason) func() {
	id := c.sessionID
	c.clearStorageLocked()
	c.stopMonitoringLocked()
	c.sessionID = ""
	c.profile = nil
	c.state = StateExpired

	return func() {
		util.Info("session expired",
			util.String("session_id", shortID(id)),
			util.String("reason", string(reason)))
		c.events.emitExpired(reason)
	}
}

// adoptStoredActivityLocked pulls the shared activity timestamp and keeps the
// maximum, so activity in any process extends the session in all of them.
func (c *Controller) adoptStoredActivityLocked() {
	value, ok := c.storeGetLocked(store.KeyLastActivity)
	if !ok {
		return
	}
	stored, err := parseMillis(value)
	if err != nil {
		return
	}
	if stored.After(c.lastActivityAt) {
		c.lastActivityAt = stored
		if c.warningShown {
			c.warningShown = false
			if c.state == StateWarning {
				c.state = StateActive
			}
		}
	}
}

func (c *Controller) startMonitoringLocked() {
	c.stopMonitoringLocked()

	stopCh := make(chan struct{})
	c.stopCheck = stopCh
	interval := c.opts.CheckInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.CheckNow()
			case <-stopCh:
				return
			}
		}
	}()

	remaining := policy.RemainingAbsolute(c.startedAt, c.opts.Clock.Now(), c.opts.Thresholds)
	if remaining > 0 {
		c.absTimer = time.AfterFunc(remaining, c.CheckNow)
	}
}

func (c *Controller) stopMonitoringLocked() {
	if c.stopCheck != nil {
		close(c.stopCheck)
		c.stopCheck = nil
	}
	if c.absTimer != nil {
		c.absTimer.Stop()
		c.absTimer = nil
	}
}

// Storage helpers. A failing store degrades the controller to memory-only
// tracking for this process; it never throws to the caller.

func (c *Controller) storeGetLocked(key string) (string, bool) {
	value, err := c.st.Get(context.Background(), key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.degradeLocked(err)
		}
		return "", false
	}
	return value, true
}

func (c *Controller) storeSetLocked(key, value string) {
	if err := c.st.Set(context.Background(), key, value); err != nil {
		c.degradeLocked(err)
	}
}

func (c *Controller) storeDeleteLocked(keys ...string) {
	if err := c.st.Delete(context.Background(), keys...); err != nil {
		c.degradeLocked(err)
	}
}

func (c *Controller) clearStorageLocked() {
	c.storeDeleteLocked(store.SessionKeys...)
}

func (c *Controller) degradeLocked(cause error) {
	if c.degraded {
		return
	}
	c.degraded = true
	util.Warn("shared session storage unavailable, tracking session in memory only",
		util.ErrorField(cause))

	mem := store.NewMemoryStore()
	ctx := context.Background()
	if c.sessionID != "" {
		_ = mem.Set(ctx, store.KeySessionID, c.sessionID)
		_ = mem.Set(ctx, store.KeyStartedAt, formatMillis(c.startedAt))
		_ = mem.Set(ctx, store.KeyLastActivity, formatMillis(c.lastActivityAt))
		if c.profile != nil {
			if encoded, err := c.profile.encode(); err == nil {
				_ = mem.Set(ctx, store.KeyProfile, encoded)
			}
		}
	}
	c.st = mem
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
