package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"roomsync/internal/backend"
	"roomsync/internal/content"
	"roomsync/internal/models"
	"roomsync/internal/paths"
)

type AdminHandler struct {
	db    backend.Backend
	paths *paths.Resolver
}

func NewAdminHandler(db backend.Backend) *AdminHandler {
	return &AdminHandler{db: db, paths: paths.New(db)}
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type CreateRoomRequest struct {
	Name string          `json:"name"`
	Type models.RoomType `json:"type"`
}

type CreateRoomResponse struct {
	APIResponse
	RoomID string `json:"roomId,omitempty"`
}

// FlaggedMessage is one entry of the moderation queue.
type FlaggedMessage struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"room"`
	Creator   string `json:"creator"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Date      int64  `json:"date"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (h *AdminHandler) nodePath(r *http.Request) (string, error) {
	return backend.CleanPath(r.URL.Query().Get("path"))
}

// NodeHandler returns the snapshot of the node at ?path=, children included.
func (h *AdminHandler) NodeHandler(w http.ResponseWriter, r *http.Request) {
	path, err := h.nodePath(r)
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	snap, err := h.db.Ref(path).Once(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), APIResponse{
			Message: fmt.Sprintf("Failed to read %s: %v", path, err),
		})
		return
	}
	if !snap.Exists() {
		writeJSON(w, http.StatusNotFound, APIResponse{Message: models.ErrNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DeleteNodeHandler removes the node at ?path= and everything under it.
func (h *AdminHandler) DeleteNodeHandler(w http.ResponseWriter, r *http.Request) {
	path, err := h.nodePath(r)
	if err != nil || path == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	if err := h.db.Ref(path).Remove(r.Context()); err != nil {
		writeJSON(w, statusFor(err), APIResponse{
			Message: fmt.Sprintf("Failed to delete %s: %v", path, err),
		})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: fmt.Sprintf("Node %s deleted", path)})
}

// CreateRoomHandler seeds a room nobody owns yet, typically a public one.
func (h *AdminHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Type {
	case models.RoomTypeGroup, models.RoomTypeOneToOne, models.RoomTypePublic:
	default:
		http.Error(w, "Invalid room type", http.StatusBadRequest)
		return
	}

	ref := h.paths.Rooms().Push()
	err := h.paths.RoomMeta(ref.Key()).Set(r.Context(), map[string]any{
		"name":    content.SanitizeName(req.Name),
		"type":    int(req.Type),
		"created": backend.ServerTimestamp,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{
			Message: fmt.Sprintf("Failed to create room: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, CreateRoomResponse{
		APIResponse: APIResponse{Success: true, Message: fmt.Sprintf("%s room created", req.Type)},
		RoomID:      ref.Key(),
	})
}

// FlaggedHandler lists flagged messages, optionally narrowed to ?room=.
func (h *AdminHandler) FlaggedHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.db.Ref("flagged").OrderByChild("date").Once(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{
			Message: fmt.Sprintf("Failed to read flagged messages: %v", err),
		})
		return
	}

	room := strings.TrimSpace(r.URL.Query().Get("room"))
	flagged := make([]FlaggedMessage, 0, len(snap.Children))
	for _, c := range snap.Children {
		m := FlaggedMessage{
			MessageID: c.Key,
			RoomID:    backend.String(c.Field("room")),
			Creator:   backend.String(c.Field("creator")),
			From:      backend.String(c.Field("from")),
			Text:      backend.String(c.Field("text")),
		}
		m.Date, _ = backend.Int64(c.Field("date"))
		if room != "" && m.RoomID != room {
			continue
		}
		flagged = append(flagged, m)
	}
	writeJSON(w, http.StatusOK, flagged)
}

// statusFor maps backend errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
