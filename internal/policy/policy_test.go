package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	th := DefaultThresholds()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		activity time.Time
		now      time.Time
		want     Status
	}{
		{
			name:     "fresh session",
			activity: start,
			now:      start.Add(time.Minute),
			want:     StatusValid,
		},
		{
			name:     "at warning boundary stays valid",
			activity: start,
			now:      start.Add(25 * time.Minute),
			want:     StatusValid,
		},
		{
			name:     "past warning boundary",
			activity: start,
			now:      start.Add(25*time.Minute + time.Second),
			want:     StatusWarning,
		},
		{
			name:     "idle expired",
			activity: start,
			now:      start.Add(30 * time.Minute),
			want:     StatusIdleExpired,
		},
		{
			name:     "recent activity keeps old session valid",
			activity: start.Add(7 * time.Hour),
			now:      start.Add(7*time.Hour + time.Minute),
			want:     StatusValid,
		},
		{
			name:     "absolute dominates recent activity",
			activity: start.Add(8 * time.Hour),
			now:      start.Add(8 * time.Hour),
			want:     StatusAbsoluteExpired,
		},
		{
			name:     "absolute dominates idle",
			activity: start,
			now:      start.Add(9 * time.Hour),
			want:     StatusAbsoluteExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(start, tt.activity, tt.now, th)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusExpired(t *testing.T) {
	assert.False(t, StatusValid.Expired())
	assert.False(t, StatusWarning.Expired())
	assert.True(t, StatusIdleExpired.Expired())
	assert.True(t, StatusAbsoluteExpired.Expired())
}

func TestRemainingIdleMinutes(t *testing.T) {
	th := DefaultThresholds()
	activity := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 25m1s idle leaves 4m59s, shown as 5 minutes.
	now := activity.Add(25*time.Minute + time.Second)
	assert.Equal(t, 5, RemainingIdleMinutes(activity, now, th))

	// Past expiry floors at zero.
	now = activity.Add(time.Hour)
	assert.Equal(t, 0, RemainingIdleMinutes(activity, now, th))
}

func TestRemainingDurationsFloorAtZero(t *testing.T) {
	th := DefaultThresholds()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), RemainingAbsolute(start, start.Add(10*time.Hour), th))
	assert.Equal(t, 20*time.Minute, RemainingIdle(start, start.Add(10*time.Minute), th))
}
