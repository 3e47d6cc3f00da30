package handler

import (
	"net/http"

	"session-service/internal/presence"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PresenceHandler exposes the live presence map over HTTP
type PresenceHandler struct {
	channel *presence.Channel
	logger  *zap.Logger
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(channel *presence.Channel, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{
		channel: channel,
		logger:  logger,
	}
}

// RegisterRoutes registers all presence routes
func (h *PresenceHandler) RegisterRoutes(router chi.Router) {
	router.Route("/presence", func(r chi.Router) {
		r.Get("/connection", h.GetConnection)
		r.Get("/online", h.GetOnlineUsers)
		r.Get("/users/{userID}", h.GetUserStatus)
		r.Get("/shops/{shopID}", h.GetShopStatus)
	})
}

// GetConnection reports the state of the presence channel itself
func (h *PresenceHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"connected": h.channel.IsConnected(),
		"state":     h.channel.State().String(),
	}
	writeJSON(w, http.StatusOK, successResponse(data, "connection state retrieved"))
}

// GetOnlineUsers returns everyone currently online
func (h *PresenceHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	tracker := h.channel.Tracker()
	data := map[string]interface{}{
		"count": tracker.OnlineCount(),
		"users": tracker.OnlineUsers(),
	}
	writeJSON(w, http.StatusOK, successResponse(data, "online users retrieved"))
}

// GetUserStatus reports one user's presence and last-seen text
func (h *PresenceHandler) GetUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	tracker := h.channel.Tracker()

	data := map[string]interface{}{
		"user_id":   userID,
		"online":    tracker.IsUserOnline(userID),
		"last_seen": tracker.FormatLastSeen(userID),
	}
	writeJSON(w, http.StatusOK, successResponse(data, "user status retrieved"))
}

// GetShopStatus resolves a shop's displayable presence. The owner_id query
// parameter lets the lookup fall back to the owner's own status.
func (h *PresenceHandler) GetShopStatus(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "shopID")
	ownerID := r.URL.Query().Get("owner_id")

	status := h.channel.Tracker().ShopStatusFor(shopID, ownerID)
	data := map[string]interface{}{
		"shop_id": shopID,
		"status":  status.Status,
		"display": status.Display,
	}
	writeJSON(w, http.StatusOK, successResponse(data, "shop status retrieved"))
}
