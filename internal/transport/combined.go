package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/glimmer/internal/light"
)

// EndpointStatus is the health of one endpoint as shown to operators.
type EndpointStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	// NextCheck is set while sends are held back by the retry delay.
	NextCheck *time.Time `json:"next_check,omitempty"`
}

// Combined sends every frame to all of its sinks at once.
type Combined struct {
	sinks []Sink
}

// NewCombined fans frames out to sinks.
func NewCombined(sinks ...Sink) *Combined {
	return &Combined{sinks: sinks}
}

// DisplayFrame sends frame to every sink concurrently and waits for all of
// them. It succeeds if any sink succeeded. When all fail it returns
// ErrProcessExited only if every failure was fatal, and a
// *ConnectionLostError otherwise.
func (c *Combined) DisplayFrame(ctx context.Context, frame light.Frame) error {
	if len(c.sinks) == 0 {
		return nil
	}

	errs := make([]error, len(c.sinks))
	var g errgroup.Group
	for i, sink := range c.sinks {
		g.Go(func() error {
			errs[i] = sink.DisplayFrame(ctx, frame.Clone())
			return nil
		})
	}
	g.Wait()

	allFatal := true
	for _, err := range errs {
		if err == nil {
			return nil
		}
		if !IsFatal(err) {
			allFatal = false
		}
	}

	joined := errors.Join(errs...)
	if allFatal {
		return fmt.Errorf("all %d endpoints gone: %w", len(errs), joined)
	}
	// The joined errors are flattened into the reason so that a fatal
	// failure of one endpoint does not make the whole result look fatal.
	return lost(fmt.Sprintf("all %d endpoints failed: %v", len(errs), joined), nil)
}

// Endpoints reports the health of every sink built by NewEndpoints.
func (c *Combined) Endpoints() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(c.sinks))
	for _, sink := range c.sinks {
		switch s := sink.(type) {
		case interface {
			EndpointStatus() (EndpointStatus, bool)
		}:
			if st, ok := s.EndpointStatus(); ok {
				out = append(out, st)
			}
		case interface{ EndpointStatus() EndpointStatus }:
			out = append(out, s.EndpointStatus())
		}
	}
	return out
}

// Close closes every sink that can be closed.
func (c *Combined) Close() error {
	var errs []error
	for _, sink := range c.sinks {
		if closer, ok := sink.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
