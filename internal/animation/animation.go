// Package animation defines the interface every animation plugin is driven
// through, the parameter and event types that cross the plugin boundary, and
// the decorators that add speed, brightness and on/off behaviour around any
// animation.
package animation

import (
	"context"
	"math"
	"time"

	"github.com/ayusman/glimmer/internal/light"
)

// MaxFPS is the highest frame rate the host will ever schedule.
const MaxFPS = 30.0

// Animation is one running, initialised animation instance.
//
// Implementations serialise their own calls; callers may use an Animation
// from several goroutines. After Close returns, every other method fails.
type Animation interface {
	// AnimationName returns the human readable name the plugin reports.
	AnimationName(ctx context.Context) (string, error)
	// ParameterSchema describes the tunable parameters.
	ParameterSchema(ctx context.Context) (ParameterSchema, error)
	// SetParameters applies a partial set of parameter values.
	SetParameters(ctx context.Context, values ParameterValues) error
	// GetParameters returns the current value of every parameter.
	GetParameters(ctx context.Context) (ParameterValues, error)
	// GetFPS returns the frame rate the animation wants to be rendered at.
	// Zero means the animation is static.
	GetFPS(ctx context.Context) (float64, error)
	// Update advances the animation clock by delta.
	Update(ctx context.Context, delta time.Duration) error
	// OnEvent delivers an external stimulus. Delivery is best effort.
	OnEvent(ctx context.Context, event Event) error
	// Render produces a fresh frame with one pixel per light.
	Render(ctx context.Context) (light.Frame, error)
	// Close releases the process or sandbox behind the animation.
	Close() error
}

// Configuration is a parameter schema together with the current values.
type Configuration struct {
	Schema ParameterSchema `json:"schema"`
	Values ParameterValues `json:"values"`
}

// ReadConfiguration queries the schema and current values of a.
func ReadConfiguration(ctx context.Context, a Animation) (Configuration, error) {
	schema, err := a.ParameterSchema(ctx)
	if err != nil {
		return Configuration{}, err
	}
	values, err := a.GetParameters(ctx)
	if err != nil {
		return Configuration{}, err
	}
	return Configuration{Schema: schema, Values: values}, nil
}

func clampFPS(fps float64) float64 {
	switch {
	case math.IsNaN(fps), fps <= 0:
		return 0
	case fps > MaxFPS:
		return MaxFPS
	default:
		return fps
	}
}
