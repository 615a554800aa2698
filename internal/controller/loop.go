package controller

import (
	"context"
	"time"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/light"
)

// Run is the frame loop. It returns when ctx is cancelled or the controller
// is closed.
//
// Each iteration:
//  1. Sleep until the next frame is due, at most MaxSleep, or until woken
//     by a switch, parameter change or event.
//  2. Skip the iteration if the frame is not due yet.
//  3. Update the animation by the time since the last frame, schedule the
//     next frame from its fps (a day ahead when it is static) and render.
//  4. Hand the frame to the output outside the lock. Output errors never
//     stop the loop; the transports' own backoff decides when to retry.
func (c *Controller) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	outputHealthy := true
	for {
		c.mu.Lock()
		closed := c.closed
		wait := time.Until(c.nextFrame)
		c.mu.Unlock()
		if closed {
			return nil
		}

		if wait > 0 {
			timer.Reset(min(wait, MaxSleep))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.wake:
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, ok := c.tick(ctx)
		if !ok {
			continue
		}

		err := c.output.DisplayFrame(ctx, frame)
		switch {
		case err != nil && outputHealthy:
			outputHealthy = false
			c.logger.Warn("frame not delivered", "error", err)
		case err == nil && !outputHealthy:
			outputHealthy = true
			c.logger.Info("frame delivery recovered")
		}
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	}
}

// tick advances and renders the current animation if a frame is due. It
// returns the frame to send, which is the previous frame again when a
// render fails but an earlier one exists.
func (c *Controller) tick(ctx context.Context) (light.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	now := time.Now()
	if now.Before(c.nextFrame) {
		return nil, false
	}

	if err := c.current.Update(ctx, now.Sub(c.lastTime)); err != nil {
		c.renderError(ctx, "update", err)
		return c.resend()
	}
	c.lastTime = now

	fps, err := c.current.GetFPS(ctx)
	if err != nil {
		c.renderError(ctx, "fps", err)
		return c.resend()
	}
	c.fps = fps
	if fps > 0 {
		c.nextFrame = now.Add(time.Duration(float64(time.Second) / fps))
	} else {
		c.nextFrame = now.Add(staticDelay)
	}

	frame, err := c.current.Render(ctx)
	if err != nil {
		c.renderError(ctx, "render", err)
		return c.resend()
	}
	if c.metrics != nil {
		c.metrics.FramesRendered.Inc()
		c.metrics.RenderDuration.Observe(time.Since(now).Seconds())
	}
	c.lastFrame = frame
	return frame.Clone(), true
}

// renderError counts and logs a failed plugin call in the loop. Fatal
// errors replace the instance with blank, which then renders at once.
// The caller holds mu.
func (c *Controller) renderError(ctx context.Context, op string, err error) {
	if animation.IsFatal(err) {
		c.fail(ctx, op, err)
		return
	}
	if c.metrics != nil {
		c.metrics.RenderErrors.WithLabelValues(op).Inc()
	}
	c.logger.Warn("animation call failed", "animation", c.currentID, "op", op, "error", err)
	if c.nextFrame.Before(time.Now()) {
		c.nextFrame = time.Now().Add(MaxSleep)
	}
}

// resend returns the last good frame, if any. The caller holds mu.
func (c *Controller) resend() (light.Frame, bool) {
	if c.lastFrame == nil {
		return nil, false
	}
	return c.lastFrame.Clone(), true
}
