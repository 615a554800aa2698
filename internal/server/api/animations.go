package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/plugin"
)

// Controller is the part of the controller the API drives.
type Controller interface {
	SwitchAnimation(ctx context.Context, id string) error
	ReloadAnimation(ctx context.Context) error
	SetParameters(ctx context.Context, values animation.ParameterValues) error
	Configuration(ctx context.Context) (animation.Configuration, error)
	SendEvent(ctx context.Context, ev animation.Event) error
	CurrentID() string
	FPS() float64
}

// Catalog lists the installed plugins.
type Catalog interface {
	List() []*plugin.Plugin
}

// AnimationHandler serves the animation catalog and the active animation.
type AnimationHandler struct {
	ctrl    Controller
	catalog Catalog
}

// NewAnimationHandler creates a new AnimationHandler.
func NewAnimationHandler(ctrl Controller, catalog Catalog) *AnimationHandler {
	return &AnimationHandler{ctrl: ctrl, catalog: catalog}
}

// ServeHTTP routes
//
//	GET  /api/animations
//	GET  /api/animations/active
//	PUT  /api/animations/active
//	POST /api/animations/active/reload
func (h *AnimationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/animations")
	path = strings.Trim(path, "/")

	switch path {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
	case "active":
		switch r.Method {
		case http.MethodGet:
			h.active(w, r)
		case http.MethodPut:
			h.switchTo(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "active/reload":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.reload(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type animationResponse struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Author      string   `json:"author,omitempty"`
	Type        string   `json:"type"`
	Version     string   `json:"version,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Active      bool     `json:"active"`
}

type listAnimationsResponse struct {
	Animations []animationResponse `json:"animations"`
}

type activeResponse struct {
	ID  string  `json:"id"`
	FPS float64 `json:"fps"`
}

type switchRequest struct {
	ID string `json:"id"`
}

// list handles GET /api/animations. The builtin blank animation comes first.
func (h *AnimationHandler) list(w http.ResponseWriter, r *http.Request) {
	current := h.ctrl.CurrentID()
	plugins := h.catalog.List()

	response := listAnimationsResponse{
		Animations: make([]animationResponse, 0, len(plugins)+1),
	}
	response.Animations = append(response.Animations, animationResponse{
		ID:          animation.BlankID,
		DisplayName: "Blank",
		Type:        "builtin",
		Active:      current == animation.BlankID,
	})
	for _, p := range plugins {
		m := p.Manifest
		response.Animations = append(response.Animations, animationResponse{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Author:      m.Author,
			Type:        string(m.PluginType),
			Version:     m.Version,
			Tags:        m.Tags,
			Active:      current == m.ID,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// active handles GET /api/animations/active.
func (h *AnimationHandler) active(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, activeResponse{ID: h.ctrl.CurrentID(), FPS: h.ctrl.FPS()})
}

// switchTo handles PUT /api/animations/active.
func (h *AnimationHandler) switchTo(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "ID is required")
		return
	}

	if err := h.ctrl.SwitchAnimation(r.Context(), req.ID); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activeResponse{ID: h.ctrl.CurrentID(), FPS: h.ctrl.FPS()})
}

// reload handles POST /api/animations/active/reload.
func (h *AnimationHandler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.ReloadAnimation(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activeResponse{ID: h.ctrl.CurrentID(), FPS: h.ctrl.FPS()})
}
