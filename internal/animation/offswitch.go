package animation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ayusman/glimmer/internal/light"
)

// Parameters injected by OffSwitch.
const (
	SwitchKey = "switch"
	FadeKey   = "fade"

	SwitchOn  = "on"
	SwitchOff = "off"
)

// energyEpsilon absorbs the rounding left by summing many small fade steps.
const energyEpsilon = 1e-9

var (
	switchParameter = Parameter{
		ID:   SwitchKey,
		Name: "Switch",
		Kind: ParameterKind{Type: TypeEnum, Values: []string{SwitchOn, SwitchOff}},
	}
	fadeParameter = Parameter{
		ID:          FadeKey,
		Name:        "Fade",
		Description: "Fade duration in seconds",
		Kind:        ParameterKind{Type: TypeNumber, Min: 0, Max: 10, Step: 0.1},
	}
)

// OffSwitch fades the animation it wraps in and out instead of cutting it.
// Energy starts at 0, so a freshly switched-on animation fades in.
type OffSwitch struct {
	Animation

	mu     sync.Mutex
	on     bool
	fade   time.Duration
	energy float64
}

// NewOffSwitch wraps inner, switched on, with a one second fade.
func NewOffSwitch(inner Animation) *OffSwitch {
	return &OffSwitch{Animation: inner, on: true, fade: time.Second}
}

// Energy returns the current output level in [0, 1].
func (o *OffSwitch) Energy() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.energy
}

func (o *OffSwitch) target() float64 {
	if o.on {
		return 1
	}
	return 0
}

// ParameterSchema returns the inner schema with the switch and fade
// parameters added.
func (o *OffSwitch) ParameterSchema(ctx context.Context) (ParameterSchema, error) {
	schema, err := o.Animation.ParameterSchema(ctx)
	if err != nil {
		return ParameterSchema{}, err
	}
	return schema.With(fadeParameter).With(switchParameter), nil
}

// GetParameters returns the inner values plus switch and fade.
func (o *OffSwitch) GetParameters(ctx context.Context) (ParameterValues, error) {
	values, err := o.Animation.GetParameters(ctx)
	if err != nil {
		return nil, err
	}
	out := values.Clone()
	o.mu.Lock()
	state := SwitchOff
	if o.on {
		state = SwitchOn
	}
	out[SwitchKey] = Enum(state)
	out[FadeKey] = Number(o.fade.Seconds())
	o.mu.Unlock()
	return out, nil
}

// SetParameters consumes switch and fade and forwards the rest.
func (o *OffSwitch) SetParameters(ctx context.Context, values ParameterValues) error {
	o.mu.Lock()
	if v, ok := values[SwitchKey]; ok {
		o.on = v.Enum == SwitchOn
	}
	if v, ok := values[FadeKey]; ok {
		o.fade = time.Duration(v.Number * float64(time.Second))
	}
	o.mu.Unlock()

	rest := values.Without(SwitchKey, FadeKey)
	if len(rest) == 0 {
		return nil
	}
	return o.Animation.SetParameters(ctx, rest)
}

// Update integrates energy toward the switch target and forwards delta.
func (o *OffSwitch) Update(ctx context.Context, delta time.Duration) error {
	o.mu.Lock()
	target := o.target()
	if o.fade <= 0 {
		if delta > 0 {
			o.energy = target
		}
	} else {
		step := delta.Seconds() / o.fade.Seconds()
		if o.energy < target {
			o.energy = min(o.energy+step, target)
		} else if o.energy > target {
			o.energy = max(o.energy-step, target)
		}
		if math.Abs(o.energy-target) < energyEpsilon {
			o.energy = target
		}
	}
	o.mu.Unlock()

	return o.Animation.Update(ctx, delta)
}

// GetFPS runs at full rate while fading and stops rendering once fully off.
func (o *OffSwitch) GetFPS(ctx context.Context) (float64, error) {
	o.mu.Lock()
	energy, target := o.energy, o.target()
	o.mu.Unlock()

	switch {
	case energy != target:
		return MaxFPS, nil
	case energy == 0:
		return 0, nil
	}
	fps, err := o.Animation.GetFPS(ctx)
	if err != nil {
		return 0, err
	}
	return clampFPS(fps), nil
}

// Render scales the inner frame by the current energy.
func (o *OffSwitch) Render(ctx context.Context) (light.Frame, error) {
	frame, err := o.Animation.Render(ctx)
	if err != nil {
		return nil, err
	}
	energy := o.Energy()
	if energy >= 1 {
		return frame, nil
	}
	return frame.Scale(energy), nil
}
