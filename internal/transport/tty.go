package transport

import (
	"context"
	"io"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when a TTY endpoint does not name one.
const DefaultBaudRate = 115200

// TTYClient writes length prefixed packets to a serial device such as a
// microcontroller driving the strip. The port is opened on first use and
// reopened after any failure, so unplugging and replugging the device is
// tolerated.
type TTYClient struct {
	device string
	mode   *serial.Mode
	open   func(device string, mode *serial.Mode) (io.WriteCloser, error)

	mu     sync.Mutex
	port   io.WriteCloser
	closed bool
}

// NewTTYClient returns a client for device at baud. A zero baud means
// DefaultBaudRate.
func NewTTYClient(device string, baud int) *TTYClient {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &TTYClient{
		device: device,
		mode:   &serial.Mode{BaudRate: baud},
		open: func(device string, mode *serial.Mode) (io.WriteCloser, error) {
			return serial.Open(device, mode)
		},
	}
}

// DisplayFrame writes one packet, giving up when ctx expires.
func (c *TTYClient) DisplayFrame(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrProcessExited
	}

	// A timed out write may still be reading packet, so it is never reused.
	packet, err := AppendPacket(nil, payload)
	if err != nil {
		return err
	}

	if c.port == nil {
		port, err := c.open(c.device, c.mode)
		if err != nil {
			return lost("open "+c.device, err)
		}
		c.port = port
	}

	if err := writeContext(ctx, c.port, packet); err != nil {
		c.port.Close()
		c.port = nil
		return lost("write "+c.device, err)
	}
	return nil
}

// Close closes the port. Later sends return ErrProcessExited.
func (c *TTYClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.port != nil {
		err := c.port.Close()
		c.port = nil
		return err
	}
	return nil
}

// writeContext writes p to w, returning early with ctx's error if ctx ends
// first. The caller must close w in that case to unblock the writer.
func writeContext(ctx context.Context, w io.Writer, p []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := w.Write(p)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
