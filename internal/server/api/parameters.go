package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/glimmer/internal/animation"
)

// ParameterHandler reads and changes the parameters of the active animation.
type ParameterHandler struct {
	ctrl Controller
}

// NewParameterHandler creates a new ParameterHandler.
func NewParameterHandler(ctrl Controller) *ParameterHandler {
	return &ParameterHandler{ctrl: ctrl}
}

// ServeHTTP handles GET and PUT /api/parameters. PUT takes a partial set of
// values and answers with the resulting configuration.
func (h *ParameterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ParameterHandler) get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.ctrl.Configuration(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ParameterHandler) update(w http.ResponseWriter, r *http.Request) {
	var values animation.ParameterValues
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, "No values given")
		return
	}

	if err := h.ctrl.SetParameters(r.Context(), values); err != nil {
		writeFailure(w, err)
		return
	}
	h.get(w, r)
}
