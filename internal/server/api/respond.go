// Package api provides the HTTP handlers of the glimmer control API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/controller"
	"github.com/ayusman/glimmer/internal/plugin"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeFailure maps an error from the controller to a status code.
func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var animErr *animation.AnimationError
	switch {
	case errors.Is(err, animation.ErrInvalidParameter):
		return http.StatusBadRequest
	case plugin.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &animErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, controller.ErrClosed):
		return http.StatusServiceUnavailable
	case animation.IsFatal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
