package animation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/glimmer/internal/light"
)

// stubAnimation renders a fixed color and records what it was sent.
type stubAnimation struct {
	mu      sync.Mutex
	lights  int
	fps     float64
	color   light.Pixel
	elapsed time.Duration
	params  ParameterValues
	events  []Event
}

func newStub(lights int, fps float64) *stubAnimation {
	return &stubAnimation{
		lights: lights,
		fps:    fps,
		color:  light.Pixel{R: 200, G: 100, B: 50},
		params: ParameterValues{"hue": Number(0.5)},
	}
}

func (s *stubAnimation) AnimationName(context.Context) (string, error) { return "Stub", nil }

func (s *stubAnimation) ParameterSchema(context.Context) (ParameterSchema, error) {
	return ParameterSchema{Parameters: []Parameter{
		{ID: "hue", Name: "Hue", Kind: ParameterKind{Type: TypeNumber, Min: 0, Max: 1, Step: 0.01}},
	}}, nil
}

func (s *stubAnimation) SetParameters(_ context.Context, values ParameterValues) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.params[k] = v
	}
	return nil
}

func (s *stubAnimation) GetParameters(context.Context) (ParameterValues, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Clone(), nil
}

func (s *stubAnimation) GetFPS(context.Context) (float64, error) { return s.fps, nil }

func (s *stubAnimation) Update(_ context.Context, delta time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed += delta
	return nil
}

func (s *stubAnimation) OnEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *stubAnimation) Render(context.Context) (light.Frame, error) {
	f := make(light.Frame, s.lights)
	for i := range f {
		f[i] = s.color
	}
	return f, nil
}

func (s *stubAnimation) Close() error { return nil }

func TestSpeedControlled_GetFPS(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		inner  float64
		factor float64
		want   float64
	}{
		{"double", 10, 2, 20},
		{"negative", 10, -2, 20},
		{"clamped", 40, 1, 30},
		{"stopped", 10, 0, 0},
		{"static", 0, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpeedControlled(newStub(3, tt.inner))
			require.NoError(t, s.SetParameters(ctx, ParameterValues{SpeedKey: Speed(tt.factor)}))

			fps, err := s.GetFPS(ctx)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, fps, 1e-9)
		})
	}
}

func TestSpeedControlled_ScalesUpdate(t *testing.T) {
	ctx := context.Background()
	inner := newStub(3, 10)
	s := NewSpeedControlled(inner)
	require.NoError(t, s.SetParameters(ctx, ParameterValues{SpeedKey: Speed(2.5)}))

	require.NoError(t, s.Update(ctx, 100*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, inner.elapsed)
}

func TestSpeedControlled_MergesParameters(t *testing.T) {
	ctx := context.Background()
	inner := newStub(3, 10)
	s := NewSpeedControlled(inner)

	schema, err := s.ParameterSchema(ctx)
	require.NoError(t, err)
	require.Len(t, schema.Parameters, 2)
	assert.Equal(t, SpeedKey, schema.Parameters[0].ID)

	require.NoError(t, s.SetParameters(ctx, ParameterValues{
		SpeedKey: Speed(3),
		"hue":    Number(0.25),
	}))

	values, err := s.GetParameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, Speed(3), values[SpeedKey])
	assert.Equal(t, Number(0.25), values["hue"])
	_, leaked := inner.params[SpeedKey]
	assert.False(t, leaked, "speed key must not reach the inner animation")
}

func TestBrightnessControlled_DimsFrame(t *testing.T) {
	ctx := context.Background()
	b := NewBrightnessControlled(newStub(4, 10))
	require.NoError(t, b.SetParameters(ctx, ParameterValues{BrightnessKey: Percentage(0.5)}))

	frame, err := b.Render(ctx)
	require.NoError(t, err)
	require.Len(t, frame, 4)
	for _, p := range frame {
		assert.Equal(t, light.Pixel{R: 100, G: 50, B: 25}, p)
	}
}

func TestOffSwitch_FadeMonotonic(t *testing.T) {
	ctx := context.Background()
	o := NewOffSwitch(newStub(2, 10))
	require.NoError(t, o.SetParameters(ctx, ParameterValues{FadeKey: Number(2)}))
	assert.Equal(t, 0.0, o.Energy())

	step := 10 * time.Millisecond
	prev := 0.0
	for i := 0; i < 200; i++ {
		require.NoError(t, o.Update(ctx, step))
		assert.GreaterOrEqual(t, o.Energy(), prev)
		prev = o.Energy()
	}
	assert.InDelta(t, 1.0, o.Energy(), 1e-9)

	require.NoError(t, o.SetParameters(ctx, ParameterValues{SwitchKey: Enum(SwitchOff)}))
	for i := 0; i < 200; i++ {
		require.NoError(t, o.Update(ctx, step))
		assert.LessOrEqual(t, o.Energy(), prev)
		prev = o.Energy()
	}
	assert.InDelta(t, 0.0, o.Energy(), 1e-9)

	fps, err := o.GetFPS(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, fps)
}

func TestOffSwitch_ZeroFadeIsImmediate(t *testing.T) {
	ctx := context.Background()
	o := NewOffSwitch(newStub(2, 10))
	require.NoError(t, o.SetParameters(ctx, ParameterValues{FadeKey: Number(0)}))

	require.NoError(t, o.Update(ctx, time.Millisecond))
	assert.Equal(t, 1.0, o.Energy())

	frame, err := o.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, light.Pixel{R: 200, G: 100, B: 50}, frame[0])

	require.NoError(t, o.SetParameters(ctx, ParameterValues{SwitchKey: Enum(SwitchOff)}))
	require.NoError(t, o.Update(ctx, time.Millisecond))
	assert.Equal(t, 0.0, o.Energy())
}

func TestOffSwitch_FullRateWhileFading(t *testing.T) {
	ctx := context.Background()
	o := NewOffSwitch(newStub(2, 5))

	fps, err := o.GetFPS(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxFPS, fps)

	require.NoError(t, o.Update(ctx, 2*time.Second))
	fps, err = o.GetFPS(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, fps)
}

func TestDecorators_Transparency(t *testing.T) {
	ctx := context.Background()
	wrappers := map[string]func(Animation) Animation{
		"speed":      func(a Animation) Animation { return NewSpeedControlled(a) },
		"brightness": func(a Animation) Animation { return NewBrightnessControlled(a) },
		"offswitch":  func(a Animation) Animation { return NewOffSwitch(a) },
		"stack": func(a Animation) Animation {
			return NewOffSwitch(NewSpeedControlled(NewBrightnessControlled(a)))
		},
	}

	for name, wrap := range wrappers {
		for _, innerFPS := range []float64{0, 12, 60, -5} {
			inner := newStub(7, innerFPS)
			d := wrap(inner)
			require.NoError(t, d.Update(ctx, 10*time.Millisecond), name)

			want, err := inner.Render(ctx)
			require.NoError(t, err)
			got, err := d.Render(ctx)
			require.NoError(t, err)
			assert.Len(t, got, len(want), name)

			fps, err := d.GetFPS(ctx)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, fps, 0.0, name)
			assert.LessOrEqual(t, fps, MaxFPS, name)
		}
	}
}

func TestDecorators_EventPassThrough(t *testing.T) {
	ctx := context.Background()
	inner := newStub(1, 10)
	d := NewOffSwitch(NewSpeedControlled(NewBrightnessControlled(inner)))

	require.NoError(t, d.OnEvent(ctx, Event{Type: EventBeat}))
	require.Len(t, inner.events, 1)
	assert.Equal(t, EventBeat, inner.events[0].Type)
}

func TestBlank_RendersOff(t *testing.T) {
	ctx := context.Background()
	b := NewBlank(3)

	frame, err := b.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, light.Blank(3), frame)

	fps, err := b.GetFPS(ctx)
	require.NoError(t, err)
	assert.Zero(t, fps)

	require.NoError(t, b.Close())
	_, err = b.Render(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, IsFatal(err))
}
