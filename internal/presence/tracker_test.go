package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-service/internal/clock"
)

var trackerStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTrackerOnlineOffline(t *testing.T) {
	clk := clock.NewFake(trackerStart)
	tracker := NewTracker(clk)

	tracker.setOnline(OnlineUser{UserID: "u1", UserType: RoleShopOwner, ShopID: "s1", LastEvent: clk.Now()})
	assert.True(t, tracker.IsUserOnline("u1"))
	assert.True(t, tracker.IsShopOnline("s1"))
	assert.Equal(t, 1, tracker.OnlineCount())

	offlineAt := clk.Now()
	tracker.setOffline("u1", offlineAt)
	assert.False(t, tracker.IsUserOnline("u1"))
	assert.False(t, tracker.IsShopOnline("s1"))

	seen, ok := tracker.LastSeen("u1")
	require.True(t, ok)
	assert.Equal(t, offlineAt, seen)
}

func TestTrackerShopOnlineRequiresOwnerRole(t *testing.T) {
	tracker := NewTracker(clock.NewFake(trackerStart))

	// A customer browsing the shop does not make the shop online.
	tracker.setOnline(OnlineUser{UserID: "u1", UserType: "customer", ShopID: "s1"})
	assert.False(t, tracker.IsShopOnline("s1"))

	tracker.setOnline(OnlineUser{UserID: "u2", UserType: RoleShopOwner, ShopID: "s1"})
	assert.True(t, tracker.IsShopOnline("s1"))
}

func TestTrackerBulkUpdateReplaces(t *testing.T) {
	clk := clock.NewFake(trackerStart)
	tracker := NewTracker(clk)

	tracker.setOnline(OnlineUser{UserID: "a"})
	tracker.setOnline(OnlineUser{UserID: "b"})
	tracker.setOffline("old", clk.Now())

	tracker.replaceAll(
		map[string]OnlineUser{"c": {UserID: "c"}},
		map[string]time.Time{"d": clk.Now()},
	)

	// The snapshot replaces prior state entirely.
	assert.False(t, tracker.IsUserOnline("a"))
	assert.False(t, tracker.IsUserOnline("b"))
	assert.True(t, tracker.IsUserOnline("c"))
	assert.Equal(t, 1, tracker.OnlineCount())

	_, ok := tracker.LastSeen("old")
	assert.False(t, ok)
	_, ok = tracker.LastSeen("d")
	assert.True(t, ok)
}

func TestFormatLastSeen(t *testing.T) {
	clk := clock.NewFake(trackerStart)
	tracker := NewTracker(clk)

	assert.Equal(t, "Never", tracker.FormatLastSeen("ghost"))

	cases := []struct {
		name string
		ago  time.Duration
		want string
	}{
		{"under a minute", 45 * time.Second, "Just now"},
		{"one minute", 1 * time.Minute, "1 minute ago"},
		{"minutes", 12 * time.Minute, "12 minutes ago"},
		{"ninety minutes", 90 * time.Minute, "1 hour ago"},
		{"hours", 5 * time.Hour, "5 hours ago"},
		{"days", 3 * 24 * time.Hour, "3 days ago"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker.setOffline("u1", clk.Now().Add(-tc.ago))
			assert.Equal(t, tc.want, tracker.FormatLastSeen("u1"))
		})
	}

	// Past a week the literal date is shown.
	tracker.setOffline("u1", time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, "5/20/2025", tracker.FormatLastSeen("u1"))
}

func TestShopStatusFor(t *testing.T) {
	clk := clock.NewFake(trackerStart)
	tracker := NewTracker(clk)

	assert.Equal(t, ShopStatus{Status: "offline", Display: "Offline"},
		tracker.ShopStatusFor("s1", "owner1"))

	tracker.setOffline("owner1", clk.Now().Add(-2*time.Hour))
	assert.Equal(t, ShopStatus{Status: "offline", Display: "Last seen 2 hours ago"},
		tracker.ShopStatusFor("s1", "owner1"))

	tracker.setOnline(OnlineUser{UserID: "owner1", UserType: RoleShopOwner, ShopID: "s1"})
	assert.Equal(t, ShopStatus{Status: "online", Display: "Online"},
		tracker.ShopStatusFor("s1", "owner1"))
}
