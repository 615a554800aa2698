package animation

import (
	"context"
	"sync"

	"github.com/ayusman/glimmer/internal/light"
)

// BrightnessKey is the parameter injected by BrightnessControlled.
const BrightnessKey = "brightness"

var brightnessParameter = Parameter{
	ID:          BrightnessKey,
	Name:        "Brightness",
	Description: "Output brightness",
	Kind:        ParameterKind{Type: TypePercentage},
}

// BrightnessControlled dims every frame of the animation it wraps.
type BrightnessControlled struct {
	Animation

	mu     sync.Mutex
	factor float64
}

// NewBrightnessControlled wraps inner at full brightness.
func NewBrightnessControlled(inner Animation) *BrightnessControlled {
	return &BrightnessControlled{Animation: inner, factor: 1}
}

func (b *BrightnessControlled) brightness() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.factor
}

// ParameterSchema returns the inner schema with the brightness parameter added.
func (b *BrightnessControlled) ParameterSchema(ctx context.Context) (ParameterSchema, error) {
	schema, err := b.Animation.ParameterSchema(ctx)
	if err != nil {
		return ParameterSchema{}, err
	}
	return schema.With(brightnessParameter), nil
}

// GetParameters returns the inner values plus the brightness.
func (b *BrightnessControlled) GetParameters(ctx context.Context) (ParameterValues, error) {
	values, err := b.Animation.GetParameters(ctx)
	if err != nil {
		return nil, err
	}
	out := values.Clone()
	out[BrightnessKey] = Percentage(b.brightness())
	return out, nil
}

// SetParameters consumes the brightness key and forwards the rest.
func (b *BrightnessControlled) SetParameters(ctx context.Context, values ParameterValues) error {
	if v, ok := values[BrightnessKey]; ok {
		b.mu.Lock()
		b.factor = v.Number
		b.mu.Unlock()
	}
	rest := values.Without(BrightnessKey)
	if len(rest) == 0 {
		return nil
	}
	return b.Animation.SetParameters(ctx, rest)
}

// GetFPS clamps the inner frame rate.
func (b *BrightnessControlled) GetFPS(ctx context.Context) (float64, error) {
	fps, err := b.Animation.GetFPS(ctx)
	if err != nil {
		return 0, err
	}
	return clampFPS(fps), nil
}

// Render scales the inner frame by the brightness.
func (b *BrightnessControlled) Render(ctx context.Context) (light.Frame, error) {
	frame, err := b.Animation.Render(ctx)
	if err != nil {
		return nil, err
	}
	factor := b.brightness()
	if factor >= 1 {
		return frame, nil
	}
	return frame.Scale(factor), nil
}
