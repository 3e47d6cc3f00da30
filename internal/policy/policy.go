package policy

import "time"

// Status is the outcome of evaluating a session against its timeouts.
type Status int

const (
	StatusValid Status = iota
	StatusWarning
	StatusIdleExpired
	StatusAbsoluteExpired
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusWarning:
		return "warning"
	case StatusIdleExpired:
		return "idle-expired"
	case StatusAbsoluteExpired:
		return "absolute-expired"
	default:
		return "unknown"
	}
}

// Expired reports whether the status terminates the session.
func (s Status) Expired() bool {
	return s == StatusIdleExpired || s == StatusAbsoluteExpired
}

// Thresholds configures session timeout evaluation. WarningLead is how long
// before the idle timeout a warning is raised.
type Thresholds struct {
	Absolute    time.Duration
	Idle        time.Duration
	WarningLead time.Duration
}

// DefaultThresholds mirrors production defaults: 8h absolute, 30m idle,
// warning 5m before idle expiry.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Absolute:    8 * time.Hour,
		Idle:        30 * time.Minute,
		WarningLead: 5 * time.Minute,
	}
}

// Evaluate classifies a session given its creation time, last observed
// activity and the current time. The absolute timeout dominates: a session
// older than Absolute is expired regardless of recent activity.
func Evaluate(startedAt, lastActivityAt, now time.Time, t Thresholds) Status {
	if now.Sub(startedAt) >= t.Absolute {
		return StatusAbsoluteExpired
	}

	idle := now.Sub(lastActivityAt)
	if idle >= t.Idle {
		return StatusIdleExpired
	}
	if t.WarningLead > 0 && idle > t.Idle-t.WarningLead {
		return StatusWarning
	}
	return StatusValid
}

// RemainingIdle returns the time left before idle expiry, floored at zero.
func RemainingIdle(lastActivityAt, now time.Time, t Thresholds) time.Duration {
	remaining := t.Idle - now.Sub(lastActivityAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingAbsolute returns the time left before absolute expiry, floored at
// zero.
func RemainingAbsolute(startedAt, now time.Time, t Thresholds) time.Duration {
	remaining := t.Absolute - now.Sub(startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingIdleMinutes rounds the idle remainder up to whole minutes, the
// granularity shown to the user in expiry warnings.
func RemainingIdleMinutes(lastActivityAt, now time.Time, t Thresholds) int {
	remaining := RemainingIdle(lastActivityAt, now, t)
	return int((remaining + time.Minute - 1) / time.Minute)
}
