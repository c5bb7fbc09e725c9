package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/middleware"
)

// Hub is the push fan-out used by the handlers.
type Hub interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
	Publish(userID, event string, data any) (int, error)
	Broadcast(event string, data any) (int, error)
}

// PushHandler serves the push websocket and the development publish
// endpoint.
type PushHandler struct {
	Hub Hub
	Log *zap.Logger
}

// DevPushRequest is the JSON payload of POST /dev/push. An empty UserID
// broadcasts to everyone.
type DevPushRequest struct {
	UserID string          `json:"user_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Connect upgrades the request to the caller's push stream. It must run
// behind BearerAuth so a rejected credential fails the handshake with 401.
func (h *PushHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.Hub.Serve(w, r, middleware.GetUserIDFromContext(r.Context())); err != nil {
		h.Log.Warn("push handshake failed", zap.Error(err))
	}
}

// Publish pushes an arbitrary event, standing in for the order and
// delivery systems.
func (h *PushHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req DevPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	var (
		n   int
		err error
	)
	if req.UserID == "" {
		n, err = h.Hub.Broadcast(req.Event, req.Data)
	} else {
		n, err = h.Hub.Publish(req.UserID, req.Event, req.Data)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

// AdminHandler handles the /admin endpoints.
type AdminHandler struct {
	AuthService AuthService
}

// ApproveRestaurant approves a pending restaurant account. The sandbox
// keys restaurants by their owner account id.
func (h *AdminHandler) ApproveRestaurant(w http.ResponseWriter, r *http.Request) {
	user, err := h.AuthService.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Restaurant approved", "user": user})
}
