package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/controller"
	"github.com/ayusman/glimmer/internal/plugin"
)

// fakeController records calls and accepts a "level" number in [0, 10].
type fakeController struct {
	current  string
	values   animation.ParameterValues
	events   []animation.Event
	reloads  int
	eventErr error
}

func newFakeController() *fakeController {
	return &fakeController{
		current: animation.BlankID,
		values:  animation.ParameterValues{"level": animation.Number(1)},
	}
}

func (f *fakeController) schema() animation.ParameterSchema {
	return animation.ParameterSchema{Parameters: []animation.Parameter{
		{ID: "level", Name: "Level", Kind: animation.ParameterKind{Type: animation.TypeNumber, Min: 0, Max: 10}},
	}}
}

func (f *fakeController) SwitchAnimation(_ context.Context, id string) error {
	if id != "rainbow" && id != animation.BlankID {
		return fmt.Errorf("switch to %s: %w", id, plugin.ErrPluginNotFound)
	}
	f.current = id
	return nil
}

func (f *fakeController) ReloadAnimation(context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeController) SetParameters(_ context.Context, values animation.ParameterValues) error {
	if err := f.schema().Validate(values); err != nil {
		return err
	}
	for k, v := range values {
		f.values[k] = v
	}
	return nil
}

func (f *fakeController) Configuration(context.Context) (animation.Configuration, error) {
	return animation.Configuration{Schema: f.schema(), Values: f.values.Clone()}, nil
}

func (f *fakeController) SendEvent(_ context.Context, ev animation.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", animation.ErrInvalidParameter, err)
	}
	if f.eventErr != nil {
		return f.eventErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeController) CurrentID() string { return f.current }
func (f *fakeController) FPS() float64      { return 30 }

type fakeCatalog []*plugin.Plugin

func (c fakeCatalog) List() []*plugin.Plugin { return c }

func testCatalog() fakeCatalog {
	return fakeCatalog{{
		Manifest: plugin.Manifest{
			ID:          "rainbow",
			DisplayName: "Rainbow",
			Author:      "glimmer",
			PluginType:  plugin.TypeNative,
			APIVersion:  plugin.APIVersion,
			Version:     "1.0.0",
			Tags:        []string{"color"},
		},
	}}
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnimationHandler_List(t *testing.T) {
	ctrl := newFakeController()
	handler := NewAnimationHandler(ctrl, testCatalog())

	rec := do(handler, http.MethodGet, "/api/animations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response listAnimationsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Animations) != 2 {
		t.Fatalf("expected blank plus 1 plugin, got %d", len(response.Animations))
	}
	blank, rainbow := response.Animations[0], response.Animations[1]
	if blank.ID != animation.BlankID || !blank.Active || blank.Type != "builtin" {
		t.Errorf("unexpected blank entry %+v", blank)
	}
	if rainbow.ID != "rainbow" || rainbow.Active || rainbow.Type != "native" || rainbow.Version != "1.0.0" {
		t.Errorf("unexpected plugin entry %+v", rainbow)
	}
}

func TestAnimationHandler_Switch(t *testing.T) {
	ctrl := newFakeController()
	handler := NewAnimationHandler(ctrl, testCatalog())

	rec := do(handler, http.MethodPut, "/api/animations/active", `{"id":"rainbow"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body)
	}
	var response activeResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.ID != "rainbow" || response.FPS != 30 {
		t.Errorf("unexpected response %+v", response)
	}

	rec = do(handler, http.MethodGet, "/api/animations/active", "")
	if !strings.Contains(rec.Body.String(), `"rainbow"`) {
		t.Errorf("active animation not reported: %s", rec.Body)
	}
}

func TestAnimationHandler_Switch_Errors(t *testing.T) {
	handler := NewAnimationHandler(newFakeController(), testCatalog())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing id", `{}`, http.StatusBadRequest},
		{"unknown plugin", `{"id":"nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(handler, http.MethodPut, "/api/animations/active", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
			var response errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil || response.Error == "" {
				t.Errorf("expected an error body, got %q", rec.Body)
			}
		})
	}
}

func TestAnimationHandler_Reload(t *testing.T) {
	ctrl := newFakeController()
	handler := NewAnimationHandler(ctrl, testCatalog())

	rec := do(handler, http.MethodPost, "/api/animations/active/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ctrl.reloads != 1 {
		t.Errorf("expected 1 reload, got %d", ctrl.reloads)
	}

	rec = do(handler, http.MethodGet, "/api/animations/active/reload", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestAnimationHandler_UnknownPath(t *testing.T) {
	handler := NewAnimationHandler(newFakeController(), testCatalog())

	rec := do(handler, http.MethodGet, "/api/animations/rainbow/extra", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestParameterHandler_Get(t *testing.T) {
	handler := NewParameterHandler(newFakeController())

	rec := do(handler, http.MethodGet, "/api/parameters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var cfg animation.Configuration
	if err := json.NewDecoder(rec.Body).Decode(&cfg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := cfg.Schema.Lookup("level"); !ok {
		t.Errorf("schema lacks level: %+v", cfg.Schema)
	}
	if cfg.Values["level"].Number != 1 {
		t.Errorf("unexpected values %+v", cfg.Values)
	}
}

func TestParameterHandler_Update(t *testing.T) {
	ctrl := newFakeController()
	handler := NewParameterHandler(ctrl)

	rec := do(handler, http.MethodPut, "/api/parameters", `{"level":{"type":"number","value":4}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body)
	}
	if ctrl.values["level"].Number != 4 {
		t.Errorf("value not applied: %+v", ctrl.values)
	}
	var cfg animation.Configuration
	if err := json.NewDecoder(rec.Body).Decode(&cfg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if cfg.Values["level"].Number != 4 {
		t.Errorf("response does not show the new value: %+v", cfg.Values)
	}
}

func TestParameterHandler_Update_Rejected(t *testing.T) {
	handler := NewParameterHandler(newFakeController())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty", `{}`},
		{"unknown key", `{"other":{"type":"number","value":1}}`},
		{"out of range", `{"level":{"type":"number","value":99}}`},
		{"wrong kind", `{"level":{"type":"enum","value":"high"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(handler, http.MethodPut, "/api/parameters", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
		})
	}
}

func TestEventHandler(t *testing.T) {
	ctrl := newFakeController()
	handler := NewEventHandler(ctrl)

	rec := do(handler, http.MethodPost, "/api/events", `{"type":"trigger","id":"flash"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
	if len(ctrl.events) != 1 || ctrl.events[0].ID != "flash" {
		t.Errorf("event not delivered: %+v", ctrl.events)
	}

	rec = do(handler, http.MethodPost, "/api/events", `{"type":"trigger"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for an incomplete event, got %d", http.StatusBadRequest, rec.Code)
	}

	rec = do(handler, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", animation.ErrInvalidParameter), http.StatusBadRequest},
		{fmt.Errorf("x: %w", plugin.ErrPluginNotFound), http.StatusNotFound},
		{&animation.AnimationError{Message: "no"}, http.StatusUnprocessableEntity},
		{controller.ErrClosed, http.StatusServiceUnavailable},
		{&animation.CommunicationError{Op: "render", Err: animation.ErrProcessExited}, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
