package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"session-service/internal/clock"
	"session-service/internal/util"
)

// ConnState of the presence channel.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateBackoffWait
	// StateFailed is terminal: the reconnect ceiling was reached and the
	// user must reload manually.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateBackoffWait:
		return "backoff-wait"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Conn is one open duplex connection to the presence service.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens duplex connections. The websocket adapter is the production
// implementation; tests supply fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Identity is the authenticated user the channel acts for.
type Identity struct {
	UserID   string
	UserType string
}

// CredentialSource supplies the access credential attached to the
// authenticate message. Retrieval is an external collaborator (the auth API).
type CredentialSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Options tunes the channel. Zero values fall back to production defaults.
type Options struct {
	URL                  string
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	HandshakeTimeout     time.Duration
	Clock                clock.Clock

	// OnConnectionLost fires once when the reconnect ceiling is reached.
	OnConnectionLost func()

	// schedule defers a reconnect attempt; tests replace it to observe
	// backoff delays without waiting.
	schedule func(delay time.Duration, fn func()) (cancel func())
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = time.Minute
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.BaseReconnectDelay <= 0 {
		o.BaseReconnectDelay = time.Second
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.System()
	}
	if o.schedule == nil {
		o.schedule = func(delay time.Duration, fn func()) func() {
			t := time.AfterFunc(delay, fn)
			return func() { t.Stop() }
		}
	}
	return o
}

// Channel maintains the single persistent connection to the presence
// service: authenticates on open, heartbeats for shop owners, feeds inbound
// deltas into the tracker and reconnects with exponential backoff.
type Channel struct {
	opts    Options
	dialer  Dialer
	tracker *Tracker
	creds   CredentialSource

	mu            sync.Mutex
	state         ConnState
	conn          Conn
	identity      *Identity
	attempts      int
	heartbeatStop chan struct{}
	cancelRetry   func()
	closed        bool
}

func NewChannel(dialer Dialer, tracker *Tracker, creds CredentialSource, opts Options) *Channel {
	return &Channel{
		opts:    opts.withDefaults(),
		dialer:  dialer,
		tracker: tracker,
		creds:   creds,
		state:   StateDisconnected,
	}
}

// SetIdentity installs or clears the authenticated user. With an open
// connection the channel re-authenticates immediately; losing the identity
// or the shop-owner role stops the heartbeat.
func (c *Channel) SetIdentity(identity *Identity) {
	c.mu.Lock()
	c.identity = identity
	if identity == nil || identity.UserType != RoleShopOwner {
		c.stopHeartbeatLocked()
	}
	conn := c.conn
	if identity != nil && conn != nil {
		c.state = StateAuthenticating
		snapshot := *identity
		c.mu.Unlock()
		c.authenticate(snapshot)
		return
	}
	c.mu.Unlock()
}

// Reauthenticate resends the authenticate message with a fresh credential,
// used after session id rotation.
func (c *Channel) Reauthenticate() {
	c.mu.Lock()
	if c.conn == nil || c.identity == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthenticating
	snapshot := *c.identity
	c.mu.Unlock()
	c.authenticate(snapshot)
}

// Connect starts an asynchronous connection attempt. It is a no-op without
// an authenticated identity or when a connection is already underway.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.identity == nil {
		util.Info("skipping presence connection, not authenticated")
		return
	}
	if c.state != StateDisconnected && c.state != StateFailed {
		return
	}
	c.state = StateConnecting
	go c.dial()
}

// IsConnected reports whether the underlying connection is open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tracker exposes the presence map maintained by this channel.
func (c *Channel) Tracker() *Tracker {
	return c.tracker
}

// Send marshals and writes a message. Messages sent while disconnected are
// dropped, mirroring a fire-and-forget socket write.
func (c *Channel) Send(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		util.Debug("dropping presence message, channel not connected")
		return nil
	}
	return conn.WriteMessage(data)
}

// Close tears the channel down: cancels any pending reconnect, stops the
// heartbeat and closes the connection. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	c.stopHeartbeatLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}

func (c *Channel) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		util.Error("presence connection failed", util.ErrorField(err))
		c.handleDisconnect(nil, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.state = StateAuthenticating
	identity := c.identity
	c.mu.Unlock()

	util.Info("presence channel connected", util.String("url", c.opts.URL))
	if identity != nil {
		c.authenticate(*identity)
	}
	go c.readLoop(conn)
}

func (c *Channel) authenticate(identity Identity) {
	var token string
	if c.creds != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		fetched, err := c.creds.AccessToken(ctx)
		cancel()
		if err != nil {
			util.Error("failed to fetch access credential for presence auth", util.ErrorField(err))
		} else {
			token = fetched
		}
	}

	if err := c.Send(authenticateMessage{
		Type:        TypeAuthenticate,
		UserID:      identity.UserID,
		UserType:    identity.UserType,
		AccessToken: token,
	}); err != nil {
		util.Error("failed to send authenticate message", util.ErrorField(err))
	}
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Channel) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		util.Error("failed to parse presence message", util.ErrorField(err))
		return
	}

	switch env.Type {
	case TypeUserOnline:
		var event userStatusEvent
		if err := json.Unmarshal(data, &event); err != nil {
			util.Error("malformed user_online message", util.ErrorField(err))
			return
		}
		c.tracker.setOnline(OnlineUser{
			UserID:    event.UserID,
			UserType:  event.UserType,
			ShopID:    event.ShopID,
			LastEvent: c.parseEventTime(event.Timestamp),
		})

	case TypeUserOffline:
		var event userStatusEvent
		if err := json.Unmarshal(data, &event); err != nil {
			util.Error("malformed user_offline message", util.ErrorField(err))
			return
		}
		c.tracker.setOffline(event.UserID, c.parseEventTime(event.LastSeen))

	case TypeBulkStatusUpdate:
		var bulk bulkStatusUpdate
		if err := json.Unmarshal(data, &bulk); err != nil {
			util.Error("malformed bulk_status_update message", util.ErrorField(err))
			return
		}
		online := make(map[string]OnlineUser, len(bulk.OnlineUsers))
		for _, entry := range bulk.OnlineUsers {
			online[entry.UserID] = OnlineUser{
				UserID:    entry.UserID,
				UserType:  entry.UserType,
				ShopID:    entry.ShopID,
				LastEvent: c.parseEventTime(entry.Timestamp),
			}
		}
		lastSeen := make(map[string]time.Time, len(bulk.LastSeen))
		for _, entry := range bulk.LastSeen {
			lastSeen[entry.UserID] = c.parseEventTime(entry.LastSeen)
		}
		c.tracker.replaceAll(online, lastSeen)

	case TypeAuthSuccess:
		c.mu.Lock()
		c.state = StateConnected
		if c.identity != nil && c.identity.UserType == RoleShopOwner {
			c.startHeartbeatLocked()
		}
		c.mu.Unlock()
		util.Info("presence authentication successful")

	case TypeAuthFailed:
		// Server-defined soft failure: logged, the connection stays open.
		util.Error("presence authentication failed")

	case TypeHeartbeatAck:
		// Liveness confirmation only.

	default:
		util.Warn("unknown presence message type", util.String("type", env.Type))
	}
}

func (c *Channel) handleDisconnect(conn Conn, cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	// Ignore reads failing on a connection we already replaced.
	if conn != nil && c.conn != conn {
		c.mu.Unlock()
		return
	}

	c.stopHeartbeatLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.state = StateFailed
		notify := c.opts.OnConnectionLost
		c.mu.Unlock()
		util.Error("presence connection lost, manual reload required",
			util.Int("attempts", c.opts.MaxReconnectAttempts),
			util.ErrorField(cause))
		if notify != nil {
			notify()
		}
		return
	}

	delay := backoffDelay(c.attempts, c.opts.BaseReconnectDelay, c.opts.MaxReconnectDelay)
	c.attempts++
	c.state = StateBackoffWait
	util.Warn("presence channel disconnected, scheduling reconnect",
		util.Int("attempt", c.attempts),
		util.Duration("delay", delay),
		util.ErrorField(cause))

	c.cancelRetry = c.opts.schedule(delay, func() {
		c.mu.Lock()
		if c.closed || c.identity == nil {
			c.mu.Unlock()
			return
		}
		c.cancelRetry = nil
		c.state = StateConnecting
		c.mu.Unlock()
		c.dial()
	})
	c.mu.Unlock()
}

// startHeartbeatLocked begins the fixed-interval heartbeat, stopping any
// previous timer first so state churn cannot accumulate duplicates.
func (c *Channel) startHeartbeatLocked() {
	c.stopHeartbeatLocked()

	stopCh := make(chan struct{})
	c.heartbeatStop = stopCh
	interval := c.opts.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sendHeartbeat()
			case <-stopCh:
				return
			}
		}
	}()
}

func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Channel) sendHeartbeat() {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()
	if identity == nil || identity.UserType != RoleShopOwner {
		return
	}

	if err := c.Send(heartbeatMessage{
		Type:      TypeHeartbeat,
		UserID:    identity.UserID,
		Timestamp: c.opts.Clock.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		util.Error("failed to send heartbeat", util.ErrorField(err))
	}
}

func (c *Channel) parseEventTime(value string) time.Time {
	if value == "" {
		return c.opts.Clock.Now()
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed
	}
	return c.opts.Clock.Now()
}

// backoffDelay doubles per attempt from base, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
