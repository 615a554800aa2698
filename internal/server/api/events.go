package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/glimmer/internal/animation"
)

// EventHandler forwards external events to the active animation.
type EventHandler struct {
	ctrl Controller
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(ctrl Controller) *EventHandler {
	return &EventHandler{ctrl: ctrl}
}

// ServeHTTP handles POST /api/events. Delivery is best effort; a plugin
// that fails to handle the event gets no retry.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev animation.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.ctrl.SendEvent(r.Context(), ev); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
