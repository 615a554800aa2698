// Package controller owns the active animation instance and the frame loop
// that renders it to the light transports.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/light"
	"github.com/ayusman/glimmer/internal/metric"
)

// Loop timing.
const (
	// MaxSleep caps one loop sleep so switches and parameter changes are
	// noticed promptly even when the animation renders slowly.
	MaxSleep = 33 * time.Millisecond
	// staticDelay is how far the next frame is pushed when an animation
	// reports zero fps.
	staticDelay = 24 * time.Hour
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("controller closed")

// Factory builds decorated animation instances by id.
type Factory interface {
	Make(ctx context.Context, id string) (animation.Animation, error)
}

// Output receives every rendered frame. transport.Combined is the usual one.
type Output interface {
	DisplayFrame(ctx context.Context, frame light.Frame) error
}

// Persistence remembers the active animation across restarts.
type Persistence interface {
	SaveActive(ctx context.Context, id string, values animation.ParameterValues) error
	// LoadActive returns an empty id when nothing was saved.
	LoadActive(ctx context.Context) (string, animation.ParameterValues, error)
}

// Config holds the collaborators of a Controller.
type Config struct {
	Factory Factory
	Output  Output
	// Lights is the light count, used for the builtin blank fallback.
	Lights      int
	Persistence Persistence
	Metrics     *metric.Metrics
	Logger      *slog.Logger
	// OnFrame, if set, sees every frame after it was handed to Output.
	OnFrame func(light.Frame)
}

// Controller runs exactly one animation at a time. One mutex covers the
// instance and the frame timing; plugin calls happen under it, so calls
// from the loop and from API callers are strictly ordered.
//
// Operations called on behalf of a caller run detached from the caller's
// cancellation: the instance is shared, so a caller that goes away must not
// interrupt a plugin call. The plugin clients bound every call with their
// own timeout.
type Controller struct {
	factory Factory
	output  Output
	lights  int
	persist Persistence
	metrics *metric.Metrics
	logger  *slog.Logger
	onFrame func(light.Frame)
	wake    chan struct{}

	mu        sync.Mutex
	current   animation.Animation
	currentID string
	lastFrame light.Frame
	lastTime  time.Time
	nextFrame time.Time
	fps       float64
	closed    bool
}

// New creates a controller showing the blank animation. Call Restore or
// SwitchAnimation to start something else, and Run to drive it.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	now := time.Now()
	return &Controller{
		factory:   cfg.Factory,
		output:    cfg.Output,
		lights:    cfg.Lights,
		persist:   cfg.Persistence,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "controller"),
		onFrame:   cfg.OnFrame,
		wake:      make(chan struct{}, 1),
		current:   animation.NewBlank(cfg.Lights),
		currentID: animation.BlankID,
		lastTime:  now,
		nextFrame: now,
	}
}

// wakeUp interrupts the loop's sleep.
func (c *Controller) wakeUp() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// resetTiming makes the next loop iteration render. The caller holds mu.
func (c *Controller) resetTiming() {
	now := time.Now()
	c.lastTime = now
	c.nextFrame = now
	c.fps = 0
}

// fail handles an error from the current instance. A fatal error discards
// the instance and falls back to blank. The caller holds mu.
func (c *Controller) fail(ctx context.Context, op string, err error) error {
	if !animation.IsFatal(err) {
		return err
	}
	if c.metrics != nil {
		c.metrics.RenderErrors.WithLabelValues("fatal").Inc()
	}
	c.logger.Error("animation failed, falling back to blank", "animation", c.currentID, "op", op, "error", err)

	c.current.Close()
	c.current = c.blank(ctx)
	c.currentID = animation.BlankID
	c.resetTiming()
	if c.metrics != nil {
		c.metrics.AnimationSwitches.WithLabelValues(animation.BlankID).Inc()
	}
	return err
}

func (c *Controller) blank(ctx context.Context) animation.Animation {
	if c.factory != nil {
		if a, err := c.factory.Make(ctx, animation.BlankID); err == nil {
			return a
		}
	}
	return animation.NewBlank(c.lights)
}

// SwitchAnimation starts animation id and replaces the current instance
// with it. The new animation renders on the next loop iteration.
func (c *Controller) SwitchAnimation(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	if err := c.switchTo(ctx, id); err != nil {
		return err
	}
	c.save(ctx)
	return nil
}

func (c *Controller) switchTo(ctx context.Context, id string) error {
	if c.factory == nil {
		return fmt.Errorf("switch to %s: no animation factory", id)
	}
	next, err := c.factory.Make(ctx, id)
	if err != nil {
		return fmt.Errorf("switch to %s: %w", id, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		next.Close()
		return ErrClosed
	}
	old, oldID := c.current, c.currentID
	c.current = next
	c.currentID = id
	c.resetTiming()
	c.mu.Unlock()

	if err := old.Close(); err != nil {
		c.logger.Warn("closing previous animation", "animation", oldID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.AnimationSwitches.WithLabelValues(id).Inc()
	}
	c.logger.Info("animation switched", "from", oldID, "to", id)
	c.wakeUp()
	return nil
}

// ReloadAnimation restarts the current animation from its plugin, keeping
// the parameter values the new instance still accepts.
func (c *Controller) ReloadAnimation(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	id := c.currentID
	values, err := c.current.GetParameters(ctx)
	if err != nil {
		c.fail(ctx, "reload", err)
		values = nil
	}
	c.mu.Unlock()

	if err := c.switchTo(ctx, id); err != nil {
		return err
	}
	if len(values) > 0 {
		c.applyValid(ctx, values)
	}
	c.save(ctx)
	return nil
}

// SetParameters validates values against the current schema and applies
// them. Unknown keys, kind mismatches, enum values outside the options and
// numbers outside [min, max] are rejected with animation.ErrInvalidParameter
// before the plugin sees them.
func (c *Controller) SetParameters(ctx context.Context, values animation.ParameterValues) error {
	ctx = context.WithoutCancel(ctx)
	if err := c.setParameters(ctx, values); err != nil {
		return err
	}
	c.save(ctx)
	return nil
}

func (c *Controller) setParameters(ctx context.Context, values animation.ParameterValues) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	schema, err := c.current.ParameterSchema(ctx)
	if err != nil {
		return c.fail(ctx, "parameter schema", err)
	}
	if err := schema.Validate(values); err != nil {
		return err
	}
	if err := c.current.SetParameters(ctx, values); err != nil {
		return c.fail(ctx, "set parameters", err)
	}
	c.nextFrame = time.Now()
	c.wakeUp()
	return nil
}

// applyValid sets every value the current schema accepts and logs the rest.
func (c *Controller) applyValid(ctx context.Context, values animation.ParameterValues) {
	c.mu.Lock()
	schema, err := c.current.ParameterSchema(ctx)
	c.mu.Unlock()
	if err != nil {
		return
	}

	valid := animation.ParameterValues{}
	for key, v := range values {
		one := animation.ParameterValues{key: v}
		if err := schema.Validate(one); err != nil {
			c.logger.Warn("dropping stored parameter", "key", key, "error", err)
			continue
		}
		valid[key] = v
	}
	if len(valid) == 0 {
		return
	}
	if err := c.setParameters(ctx, valid); err != nil {
		c.logger.Warn("restoring parameters", "error", err)
	}
}

// Configuration returns the schema and values of the current animation.
func (c *Controller) Configuration(ctx context.Context) (animation.Configuration, error) {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return animation.Configuration{}, ErrClosed
	}
	cfg, err := animation.ReadConfiguration(ctx, c.current)
	if err != nil {
		return animation.Configuration{}, c.fail(ctx, "configuration", err)
	}
	return cfg, nil
}

// SendEvent delivers ev to the current animation once. Failures are not
// retried.
func (c *Controller) SendEvent(ctx context.Context, ev animation.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", animation.ErrInvalidParameter, err)
	}
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.current.OnEvent(ctx, ev); err != nil {
		return c.fail(ctx, "event", err)
	}
	c.nextFrame = time.Now()
	c.wakeUp()
	return nil
}

// CurrentID returns the id of the running animation.
func (c *Controller) CurrentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentID
}

// FPS returns the frame rate the current animation last asked for.
func (c *Controller) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// LastFrame returns a copy of the most recently rendered frame, or nil.
func (c *Controller) LastFrame() light.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrame.Clone()
}

// Restore switches to the animation saved by the Persistence and reapplies
// its parameters. Without a Persistence, or when nothing was saved, it does
// nothing.
func (c *Controller) Restore(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	id, values, err := c.persist.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load active animation: %w", err)
	}
	if id == "" {
		return nil
	}
	if err := c.switchTo(ctx, id); err != nil {
		return err
	}
	if len(values) > 0 {
		c.applyValid(ctx, values)
	}
	c.logger.Info("animation restored", "animation", id, "parameters", len(values))
	return nil
}

// save records the current animation and its values. Errors are logged.
func (c *Controller) save(ctx context.Context) {
	if c.persist == nil {
		return
	}
	c.mu.Lock()
	id := c.currentID
	values, err := c.current.GetParameters(ctx)
	if err != nil {
		c.fail(ctx, "get parameters", err)
	}
	c.mu.Unlock()
	if err != nil {
		return
	}
	if err := c.persist.SaveActive(ctx, id, values); err != nil {
		c.logger.Warn("saving active animation", "animation", id, "error", err)
	}
}

// Close stops the loop and releases the current instance.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.wakeUp()
	return c.current.Close()
}
