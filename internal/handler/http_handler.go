package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/room"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/stream"
)

// HTTPHandler serves the read-only coordination API: room membership,
// identity presence and live streams.
type HTTPHandler struct {
	rooms   *room.Manager
	streams *stream.Machine
	store   registry.Store
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(rooms *room.Manager, streams *stream.Machine, store registry.Store) *HTTPHandler {
	return &HTTPHandler{rooms: rooms, streams: streams, store: store}
}

// MembersResponse is the API response for membership queries.
type MembersResponse struct {
	RoomID  string                  `json:"room_id"`
	Members []domain.MemberSnapshot `json:"members"`
	Total   int                     `json:"total"`
}

// LiveStreamsResponse lists performers currently broadcasting.
type LiveStreamsResponse struct {
	Streams []*domain.StreamSession `json:"streams"`
	Total   int                     `json:"total"`
}

// PresenceResponse reports whether an identity is online anywhere.
type PresenceResponse struct {
	IdentityID string `json:"identity_id"`
	Online     bool   `json:"online"`
}

// GetMembers handles GET /api/v1/rooms/{room_id}/members
func (h *HTTPHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]
	if _, _, err := domain.ParseRoomID(roomID); err != nil {
		http.Error(w, "invalid room_id", http.StatusBadRequest)
		return
	}

	members, err := h.rooms.Members(r.Context(), roomID)
	if err != nil {
		http.Error(w, "failed to get room members", http.StatusInternalServerError)
		return
	}

	writeJSON(w, MembersResponse{RoomID: roomID, Members: members, Total: len(members)})
}

// GetStreamSession handles GET /api/v1/performers/{performer_id}/stream
func (h *HTTPHandler) GetStreamSession(w http.ResponseWriter, r *http.Request) {
	performerID := mux.Vars(r)["performer_id"]
	if performerID == "" {
		http.Error(w, "performer_id is required", http.StatusBadRequest)
		return
	}

	session, err := h.streams.Session(r.Context(), performerID)
	if err != nil {
		http.Error(w, "failed to get stream session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, session)
}

// GetLiveStreams handles GET /api/v1/live-streams
func (h *HTTPHandler) GetLiveStreams(w http.ResponseWriter, r *http.Request) {
	performerIDs, err := h.store.LiveStreams(r.Context())
	if err != nil {
		http.Error(w, "failed to get live streams", http.StatusInternalServerError)
		return
	}

	sessions := make([]*domain.StreamSession, 0, len(performerIDs))
	for _, id := range performerIDs {
		session, err := h.streams.Session(r.Context(), id)
		if err != nil {
			continue
		}
		if session.Status != domain.StreamOffline {
			sessions = append(sessions, session)
		}
	}

	writeJSON(w, LiveStreamsResponse{Streams: sessions, Total: len(sessions)})
}

// GetPresence handles GET /api/v1/identities/{identity_id}/presence
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	identityID := mux.Vars(r)["identity_id"]
	if identityID == "" {
		http.Error(w, "identity_id is required", http.StatusBadRequest)
		return
	}

	online, err := h.store.IsOnline(r.Context(), identityID)
	if err != nil {
		http.Error(w, "failed to get presence", http.StatusInternalServerError)
		return
	}

	writeJSON(w, PresenceResponse{IdentityID: identityID, Online: online})
}

// HealthCheck handles GET /health
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
