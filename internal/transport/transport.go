// Package transport moves rendered frames to light hardware. Protocol
// clients (TCP, UDP, HTTP, TTY and bridge-process pipes) send encoded pixel
// payloads; Backoff keeps a failing endpoint from being hammered; Combined
// fans one frame out to every endpoint.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayusman/glimmer/internal/light"
)

// ErrProcessExited means an endpoint is permanently gone: its bridge process
// exited or the client was closed. It is never retried.
var ErrProcessExited = errors.New("transport process exited")

// ConnectionLostError is a transient send failure. The backoff state
// machine decides when the endpoint is tried again.
type ConnectionLostError struct {
	Reason string
	Err    error
}

func (e *ConnectionLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection lost: %s: %v", e.Reason, e.Err)
	}
	return "connection lost: " + e.Reason
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

func lost(reason string, err error) error {
	return &ConnectionLostError{Reason: reason, Err: err}
}

// IsFatal reports whether err means the endpoint can never succeed again.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProcessExited)
}

// Client sends one already encoded payload to a device.
type Client interface {
	DisplayFrame(ctx context.Context, payload []byte) error
	Close() error
}

// Sink accepts whole frames. ByteOrderAdapter and Combined are sinks.
type Sink interface {
	DisplayFrame(ctx context.Context, frame light.Frame) error
}
