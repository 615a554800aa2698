package animation

import (
	"context"
	"sync"
	"time"

	"github.com/ayusman/glimmer/internal/light"
)

// BlankID is the id of the builtin animation that keeps every light off.
// It is the fallback whenever a plugin instance has to be discarded.
const BlankID = "blank"

// Blank is an in-process animation that renders an all-off frame and never
// asks to be re-rendered.
type Blank struct {
	mu     sync.Mutex
	lights int
	closed bool
}

// NewBlank returns a blank animation for the given number of lights.
func NewBlank(lights int) *Blank {
	return &Blank{lights: lights}
}

func (b *Blank) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *Blank) AnimationName(ctx context.Context) (string, error) {
	return "Blank", b.check()
}

func (b *Blank) ParameterSchema(ctx context.Context) (ParameterSchema, error) {
	return ParameterSchema{}, b.check()
}

func (b *Blank) SetParameters(ctx context.Context, values ParameterValues) error {
	return b.check()
}

func (b *Blank) GetParameters(ctx context.Context) (ParameterValues, error) {
	return ParameterValues{}, b.check()
}

func (b *Blank) GetFPS(ctx context.Context) (float64, error) {
	return 0, b.check()
}

func (b *Blank) Update(ctx context.Context, delta time.Duration) error {
	return b.check()
}

func (b *Blank) OnEvent(ctx context.Context, event Event) error {
	return b.check()
}

func (b *Blank) Render(ctx context.Context) (light.Frame, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return light.Blank(b.lights), nil
}

func (b *Blank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
