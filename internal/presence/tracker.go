package presence

import (
	"fmt"
	"sync"
	"time"

	"session-service/internal/clock"
)

// OnlineUser is one entry of the live presence map.
type OnlineUser struct {
	UserID    string    `json:"user_id"`
	UserType  string    `json:"user_type"`
	ShopID    string    `json:"shop_id,omitempty"`
	LastEvent time.Time `json:"last_event"`
}

// Tracker maintains who is online and when offline users were last seen.
// A user is in exactly one of the two states; going offline records the
// last-seen timestamp, coming back online keeps it for display until the
// next offline transition.
type Tracker struct {
	clk clock.Clock

	mu       sync.RWMutex
	online   map[string]OnlineUser
	lastSeen map[string]time.Time
}

func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.System()
	}
	return &Tracker{
		clk:      clk,
		online:   make(map[string]OnlineUser),
		lastSeen: make(map[string]time.Time),
	}
}

func (t *Tracker) setOnline(user OnlineUser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[user.UserID] = user
}

func (t *Tracker) setOffline(userID string, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, userID)
	t.lastSeen[userID] = lastSeen
}

// replaceAll swaps in a full snapshot. The previous state is discarded
// entirely so reconciliation cannot leave stale entries behind.
func (t *Tracker) replaceAll(online map[string]OnlineUser, lastSeen map[string]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = online
	t.lastSeen = lastSeen
}

// IsUserOnline reports membership in the online set.
func (t *Tracker) IsUserOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// IsShopOnline is true when any connected shop owner belongs to the shop.
func (t *Tracker) IsShopOnline(shopID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, user := range t.online {
		if user.ShopID == shopID && user.UserType == RoleShopOwner {
			return true
		}
	}
	return false
}

// LastSeen returns when an offline user was last observed.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen, ok := t.lastSeen[userID]
	return seen, ok
}

// OnlineCount returns the size of the online set.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}

// OnlineUsers returns a copy of the online set.
func (t *Tracker) OnlineUsers() []OnlineUser {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := make([]OnlineUser, 0, len(t.online))
	for _, user := range t.online {
		users = append(users, user)
	}
	return users
}

// FormatLastSeen renders a user's last-seen time as relative text, falling
// back to a literal date past seven days.
func (t *Tracker) FormatLastSeen(userID string) string {
	seen, ok := t.LastSeen(userID)
	if !ok {
		return "Never"
	}

	minutes := int(t.clk.Now().Sub(seen) / time.Minute)
	if minutes < 1 {
		return "Just now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minute%s ago", minutes, plural(minutes))
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%d hour%s ago", hours, plural(hours))
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%d day%s ago", days, plural(days))
	}

	return seen.Format("1/2/2006")
}

// ShopStatus summarizes a shop's presence for display.
type ShopStatus struct {
	Status  string `json:"status"`
	Display string `json:"display"`
}

// ShopStatusFor resolves a shop's online state from either the shop's
// connected owners or the known owner id.
func (t *Tracker) ShopStatusFor(shopID, ownerID string) ShopStatus {
	if t.IsShopOnline(shopID) || t.IsUserOnline(ownerID) {
		return ShopStatus{Status: "online", Display: "Online"}
	}

	lastSeenText := t.FormatLastSeen(ownerID)
	if lastSeenText == "Never" {
		return ShopStatus{Status: "offline", Display: "Offline"}
	}
	return ShopStatus{Status: "offline", Display: "Last seen " + lastSeenText}
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
