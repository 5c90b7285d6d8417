package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/clientsync"
	"github.com/mcdev12/buzzer/go/internal/store"
)

// Handler serves the websocket and REST routes of the gateway.
type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// RegisterRoutes registers the gateway routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/rooms/{id}", h.HandleRoomConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("GET /api/rooms/live", h.HandleLiveState)
	mux.HandleFunc("GET /api/rooms/{id}/state", h.HandleRoomState)
}

// HandleRoomConnection upgrades to a websocket following one room.
func (h *Handler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}

	err := h.service.Connect(w, r, roomID)
	var upgrade errUpgrade
	switch {
	case err == nil:
	case errors.As(err, &upgrade):
		// The upgrader has already answered.
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to upgrade websocket connection")
	case errors.Is(err, clientsync.ErrEvicted):
		writeError(w, http.StatusGone, "room is no longer live")
	default:
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to watch room")
		writeError(w, http.StatusInternalServerError, "failed to watch room")
	}
}

// HandleRoomState returns the current state of one room.
func (h *Handler) HandleRoomState(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	state, err := h.service.State(r.Context(), roomID)
	if err != nil {
		h.stateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleLiveState returns the state of the one live room.
func (h *Handler) HandleLiveState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.LiveState(r.Context())
	if err != nil {
		h.stateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

func (h *Handler) stateError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	log.Error().Err(err).Msg("failed to load room state")
	writeError(w, http.StatusInternalServerError, "failed to load room state")
}

func roomParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return uuid.Nil, false
	}
	return roomID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
