package presence

// Wire protocol: JSON messages over a persistent duplex connection, tagged by
// a "type" field.

const (
	// Outbound
	TypeAuthenticate = "authenticate"
	TypeHeartbeat    = "heartbeat"

	// Inbound
	TypeUserOnline       = "user_online"
	TypeUserOffline      = "user_offline"
	TypeBulkStatusUpdate = "bulk_status_update"
	TypeAuthSuccess      = "authentication_success"
	TypeAuthFailed       = "authentication_failed"
	TypeHeartbeatAck     = "heartbeat_ack"
)

// RoleShopOwner is the only role that sends heartbeats.
const RoleShopOwner = "shop_owner"

type authenticateMessage struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	UserType    string `json:"user_type"`
	AccessToken string `json:"access_token"`
}

type heartbeatMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

// envelope carries only the discriminator; payloads are decoded per type.
type envelope struct {
	Type string `json:"type"`
}

type userStatusEvent struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	ShopID   string `json:"shop_id"`
	// Timestamp accompanies user_online, LastSeen accompanies user_offline.
	Timestamp string `json:"timestamp"`
	LastSeen  string `json:"last_seen"`
}

type bulkStatusUpdate struct {
	OnlineUsers []onlineUserEntry `json:"online_users"`
	LastSeen    []lastSeenEntry   `json:"last_seen"`
}

type onlineUserEntry struct {
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
	ShopID    string `json:"shop_id"`
	Timestamp string `json:"timestamp"`
}

type lastSeenEntry struct {
	UserID   string `json:"user_id"`
	LastSeen string `json:"last_seen"`
}
