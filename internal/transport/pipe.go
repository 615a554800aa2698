package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// exitGrace is how long a failed write waits to learn whether the bridge
// process exited.
const exitGrace = 100 * time.Millisecond

// PipeClient streams length prefixed packets into the stdin of a local
// bridge process, for hardware reached through a vendor tool. The process is
// started on first use. Once it exits the endpoint is dead: every later send
// returns ErrProcessExited.
type PipeClient struct {
	argv   []string
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}
	closed bool
}

// NewPipeClient returns a client for the command line argv.
func NewPipeClient(argv []string, logger *slog.Logger) *PipeClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipeClient{argv: argv, logger: logger}
}

func (c *PipeClient) start() error {
	if len(c.argv) == 0 {
		return fmt.Errorf("%w: empty bridge command", ErrProcessExited)
	}
	cmd := exec.Command(c.argv[0], c.argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("bridge stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrProcessExited, c.argv[0], err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		c.logger.Warn("light bridge exited", "command", c.argv[0], "error", err)
		close(exited)
	}()

	c.cmd = cmd
	c.stdin = stdin
	c.exited = exited
	return nil
}

func (c *PipeClient) hasExited() bool {
	if c.exited == nil {
		return false
	}
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

// DisplayFrame writes one packet to the bridge.
func (c *PipeClient) DisplayFrame(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.hasExited() {
		return ErrProcessExited
	}
	if c.cmd == nil {
		if err := c.start(); err != nil {
			return err
		}
	}

	packet, err := AppendPacket(nil, payload)
	if err != nil {
		return err
	}
	err = writeContext(ctx, c.stdin, packet)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// A half written packet desynchronises the stream for good.
		c.cmd.Process.Kill()
		return fmt.Errorf("%w: bridge stalled: %v", ErrProcessExited, err)
	}
	select {
	case <-c.exited:
		return fmt.Errorf("%w: %v", ErrProcessExited, err)
	case <-time.After(exitGrace):
	}
	return lost("write to bridge", err)
}

// Close closes the bridge's stdin and kills it if it is still running.
func (c *PipeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cmd == nil {
		return nil
	}
	c.stdin.Close()
	if !c.hasExited() {
		c.cmd.Process.Kill()
	}
	<-c.exited
	return nil
}
