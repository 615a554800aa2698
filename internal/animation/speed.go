package animation

import (
	"context"
	"math"
	"sync"
	"time"
)

// SpeedKey is the parameter injected by SpeedControlled.
const SpeedKey = "speed"

var speedParameter = Parameter{
	ID:          SpeedKey,
	Name:        "Speed",
	Description: "Playback speed multiplier",
	Kind:        ParameterKind{Type: TypeSpeed},
}

// SpeedControlled scales the clock of the animation it wraps.
type SpeedControlled struct {
	Animation

	mu     sync.Mutex
	factor float64
}

// NewSpeedControlled wraps inner with a speed multiplier of 1.
func NewSpeedControlled(inner Animation) *SpeedControlled {
	return &SpeedControlled{Animation: inner, factor: 1}
}

func (s *SpeedControlled) speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factor
}

// ParameterSchema returns the inner schema with the speed parameter added.
func (s *SpeedControlled) ParameterSchema(ctx context.Context) (ParameterSchema, error) {
	schema, err := s.Animation.ParameterSchema(ctx)
	if err != nil {
		return ParameterSchema{}, err
	}
	return schema.With(speedParameter), nil
}

// GetParameters returns the inner values plus the speed multiplier.
func (s *SpeedControlled) GetParameters(ctx context.Context) (ParameterValues, error) {
	values, err := s.Animation.GetParameters(ctx)
	if err != nil {
		return nil, err
	}
	out := values.Clone()
	out[SpeedKey] = Speed(s.speed())
	return out, nil
}

// SetParameters consumes the speed key and forwards the rest.
func (s *SpeedControlled) SetParameters(ctx context.Context, values ParameterValues) error {
	if v, ok := values[SpeedKey]; ok {
		s.mu.Lock()
		s.factor = v.Number
		s.mu.Unlock()
	}
	rest := values.Without(SpeedKey)
	if len(rest) == 0 {
		return nil
	}
	return s.Animation.SetParameters(ctx, rest)
}

// Update forwards delta scaled by the speed multiplier.
func (s *SpeedControlled) Update(ctx context.Context, delta time.Duration) error {
	return s.Animation.Update(ctx, time.Duration(float64(delta)*s.speed()))
}

// GetFPS scales the inner frame rate by the magnitude of the multiplier.
func (s *SpeedControlled) GetFPS(ctx context.Context) (float64, error) {
	fps, err := s.Animation.GetFPS(ctx)
	if err != nil {
		return 0, err
	}
	return clampFPS(fps * math.Abs(s.speed())), nil
}
