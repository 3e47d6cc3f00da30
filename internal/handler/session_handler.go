package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"session-service/internal/session"
	"session-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionHandler handles HTTP requests for session lifecycle operations
type SessionHandler struct {
	controller *session.Controller
	signals    chan<- session.Signal
	logger     *zap.Logger
}

// NewSessionHandler creates a new session handler. Raw interaction reports
// are forwarded into signals for the throttled activity monitor.
func NewSessionHandler(controller *session.Controller, signals chan<- session.Signal, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		controller: controller,
		signals:    signals,
		logger:     logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterRoutes registers all session routes
func (h *SessionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/session", func(r chi.Router) {
		r.Get("/info", h.GetInfo)
		r.Get("/validity", h.GetValidity)
		r.Post("/create", h.Create)
		r.Post("/activity", h.RecordActivity)
		r.Post("/interaction", h.ReportInteraction)
		r.Post("/extend", h.Extend)
		r.Post("/regenerate", h.Regenerate)
		r.Post("/invalidate", h.Invalidate)
	})
}

type createSessionRequest struct {
	Profile *session.ProfileFragment `json:"profile"`
}

type interactionRequest struct {
	Type string `json:"type"`
}

// Create starts a new session after login. The optional profile is the
// sanitized identity fragment persisted alongside it.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid create request"))
			return
		}
	}

	id := h.controller.Create(req.Profile)
	data := map[string]string{"session_id": id}
	writeJSON(w, http.StatusCreated, successResponse(data, "session created"))
}

// ReportInteraction feeds a raw user interaction into the activity monitor,
// which throttles before it reaches the session store.
func (h *SessionHandler) ReportInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err, "invalid interaction request"))
		return
	}

	signal, ok := session.ParseSignal(req.Type)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse(errors.New("unknown interaction type"), "invalid interaction request"))
		return
	}

	// A full buffer means a burst the throttle would collapse anyway.
	select {
	case h.signals <- signal:
	default:
	}
	writeJSON(w, http.StatusAccepted, successResponse(nil, "interaction reported"))
}

// GetInfo returns timing details of the current session
func (h *SessionHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info := h.controller.Info()
	if info == nil {
		writeJSON(w, http.StatusNotFound, errorResponse(errors.New("no active session"), "session info unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, successResponse(info, "session info retrieved"))
}

// GetValidity reports whether the session is currently usable
func (h *SessionHandler) GetValidity(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"valid":    h.controller.IsValid(),
		"state":    h.controller.State().String(),
		"degraded": h.controller.Degraded(),
	}
	writeJSON(w, http.StatusOK, successResponse(data, "session validity checked"))
}

// RecordActivity marks the session as recently used
func (h *SessionHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	h.controller.RecordActivity()
	writeJSON(w, http.StatusOK, successResponse(h.controller.Info(), "activity recorded"))
}

// Extend resets the idle clock in response to an explicit user choice
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	h.controller.Extend()
	writeJSON(w, http.StatusOK, successResponse(h.controller.Info(), "session extended"))
}

// Regenerate rotates the session identifier after privilege changes
func (h *SessionHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	newID, err := h.controller.Regenerate()
	if err != nil {
		if errors.Is(err, session.ErrInvalidState) {
			writeJSON(w, http.StatusConflict, errorResponse(err, "no active session to regenerate"))
			return
		}
		h.logger.Error("failed to regenerate session", util.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse(err, "session regeneration failed"))
		return
	}

	data := map[string]string{"session_id": newID}
	writeJSON(w, http.StatusOK, successResponse(data, "session regenerated"))
}

// Invalidate terminates the session on logout
func (h *SessionHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.controller.Invalidate()
	writeJSON(w, http.StatusOK, successResponse(nil, "session invalidated"))
}
