package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/light"
)

const (
	// DefaultCallTimeout bounds one plugin call when no timeout is configured.
	DefaultCallTimeout = 5 * time.Second
	// closeGrace is how long Close waits for a plugin to exit on its own
	// after its stdin is closed.
	closeGrace = 500 * time.Millisecond
	// maxReplyLine bounds one reply line. Render replies grow with the
	// light count.
	maxReplyLine = 16 << 20
)

// Native plugin methods.
const (
	methodInitialize      = "Initialize"
	methodAnimationName   = "AnimationName"
	methodParameterSchema = "ParameterSchema"
	methodSetParameters   = "SetParameters"
	methodGetParameters   = "GetParameters"
	methodGetFPS          = "GetFps"
	methodUpdate          = "Update"
	methodOnEvent         = "OnEvent"
	methodRender          = "Render"
)

type rpcRequest struct {
	ID     *uint64 `json:"id,omitempty"`
	Method string  `json:"method"`
	Params any     `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     *uint64          `json:"id"`
	Result json.RawMessage  `json:"result"`
	Error  *rpcErrorPayload `json:"error"`
}

type rpcErrorPayload struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// err converts the payload into an AnimationError when the plugin reported
// its own failure, and an RPCError otherwise.
func (p *rpcErrorPayload) err() error {
	var data struct {
		Message string `json:"message"`
	}
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &data); err != nil {
			// Not the {"message": ...} shape; keep the raw data on the RPCError.
			data.Message = ""
		}
	}
	if p.Code == animation.CodeAnimationError || (p.Message == "Animation Error" && data.Message != "") {
		msg := data.Message
		if msg == "" {
			msg = p.Message
		}
		return &animation.AnimationError{Message: msg}
	}
	return &animation.RPCError{Code: p.Code, Message: p.Message, Data: p.Data}
}

type initializeParams struct {
	Points []light.Point `json:"points"`
}

type updateParams struct {
	TimeDelta float64 `json:"time_delta"`
}

// NativeConfig configures a native plugin process.
type NativeConfig struct {
	// Name identifies the plugin in logs.
	Name    string
	Path    string
	Args    []string
	Dir     string
	Points  []light.Point
	Timeout time.Duration
	Logger  *slog.Logger
}

// NativeAnimation drives a plugin subprocess that reads one JSON message
// per line on stdin and answers every request carrying an id with one line
// on stdout.
//
// Calls are serialised: the lock covers assigning the id, writing the
// request and reading its reply. Once the process exits, a reply cannot be
// parsed or a call times out, the instance is poisoned and every later call
// returns the same *animation.CommunicationError.
type NativeAnimation struct {
	name    string
	lights  int
	timeout time.Duration
	logger  *slog.Logger

	cmd    *exec.Cmd
	stdin  *os.File
	lines  chan []byte
	exited chan struct{}

	mu     sync.Mutex
	nextID uint64
	broken error
	closed bool
}

// StartNative spawns the plugin and initialises it with cfg.Points.
func StartNative(ctx context.Context, cfg NativeConfig) (*NativeAnimation, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Path
	}
	logger := cfg.Logger.With("plugin", cfg.Name, "instance", uuid.NewString())

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Stderr = newOutputLogger(logger, "stderr")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin stdout: %w", err)
	}
	// A real pipe, not StdinPipe, so writes can carry a deadline.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("plugin stdin: %w", err)
	}
	cmd.Stdin = stdinR

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("start plugin %s: %w", cfg.Name, err)
	}
	stdinR.Close()

	n := &NativeAnimation{
		name:    cfg.Name,
		lights:  len(cfg.Points),
		timeout: cfg.Timeout,
		logger:  logger,
		cmd:     cmd,
		stdin:   stdinW,
		lines:   make(chan []byte, 16),
		exited:  make(chan struct{}),
	}

	pumped := make(chan struct{})
	go n.readLines(stdout, pumped)
	go func() {
		<-pumped
		err := cmd.Wait()
		n.logger.Debug("plugin process exited", "error", err)
		close(n.exited)
	}()

	logger.Info("plugin started", "pid", cmd.Process.Pid, "lights", n.lights)

	if err := n.call(ctx, methodInitialize, initializeParams{Points: cfg.Points}, nil); err != nil {
		n.Close()
		return nil, fmt.Errorf("initialize plugin %s: %w", cfg.Name, err)
	}
	return n, nil
}

func (n *NativeAnimation) readLines(r io.Reader, done chan<- struct{}) {
	defer close(done)
	defer close(n.lines)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxReplyLine)
	for sc.Scan() {
		n.lines <- append([]byte(nil), sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		n.logger.Warn("plugin stdout unreadable", "error", err)
		// Keep draining so the process is never blocked on a full pipe.
		io.Copy(io.Discard, r)
	}
}


func (n *NativeAnimation) usable() error {
	if n.closed {
		return animation.ErrClosed
	}
	return n.broken
}

// poison marks the instance unusable. Timeouts kill the process, since a
// late reply would be matched to the wrong request.
func (n *NativeAnimation) poison(op string, err error) error {
	ce := &animation.CommunicationError{Op: op, Err: err}
	n.broken = ce
	if !errors.Is(err, animation.ErrProcessExited) {
		n.cmd.Process.Kill()
	}
	n.logger.Error("plugin instance unusable", "op", op, "error", err)
	return ce
}

func (n *NativeAnimation) write(msg rpcRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Method, err)
	}
	data = append(data, '\n')

	if err := n.stdin.SetWriteDeadline(time.Now().Add(n.timeout)); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return n.poison(msg.Method, fmt.Errorf("%w: %v", animation.ErrProcessExited, err))
	}
	if _, err := n.stdin.Write(data); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n.poison(msg.Method, animation.ErrCallTimeout)
		}
		return n.poison(msg.Method, fmt.Errorf("%w: %v", animation.ErrProcessExited, err))
	}
	return nil
}

// readReply waits for the reply to the request just written. A caller that
// gives up early gets its context error, but the reply is still consumed so
// the next call reads its own; only the call timeout poisons the instance.
func (n *NativeAnimation) readReply(ctx context.Context, method string) ([]byte, error) {
	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	done := ctx.Done()
	var abandoned error
	for {
		select {
		case line, ok := <-n.lines:
			if !ok {
				return nil, n.poison(method, animation.ErrProcessExited)
			}
			if abandoned != nil {
				return nil, abandoned
			}
			return line, nil
		case <-timer.C:
			return nil, n.poison(method, animation.ErrCallTimeout)
		case <-done:
			abandoned = ctx.Err()
			done = nil
		}
	}
}

// call sends a request and decodes the result into result, which may be nil.
func (n *NativeAnimation) call(ctx context.Context, method string, params, result any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.usable(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	n.nextID++
	id := n.nextID
	if err := n.write(rpcRequest{ID: &id, Method: method, Params: params}); err != nil {
		return err
	}
	line, err := n.readReply(ctx, method)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return n.poison(method, fmt.Errorf("%w: %v", animation.ErrInvalidResponse, err))
	}
	if resp.ID == nil || *resp.ID != id {
		got := "none"
		if resp.ID != nil {
			got = fmt.Sprint(*resp.ID)
		}
		return n.poison(method, fmt.Errorf("%w: reply id %s, want %d", animation.ErrInvalidResponse, got, id))
	}
	if resp.Error != nil {
		return resp.Error.err()
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return n.poison(method, fmt.Errorf("%w: result: %v", animation.ErrInvalidResponse, err))
		}
	}
	return nil
}

// notify sends a message without an id. The plugin does not answer it.
func (n *NativeAnimation) notify(ctx context.Context, method string, params any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.write(rpcRequest{Method: method, Params: params})
}

func (n *NativeAnimation) AnimationName(ctx context.Context) (string, error) {
	var name string
	err := n.call(ctx, methodAnimationName, nil, &name)
	return name, err
}

func (n *NativeAnimation) ParameterSchema(ctx context.Context) (animation.ParameterSchema, error) {
	var schema animation.ParameterSchema
	err := n.call(ctx, methodParameterSchema, nil, &schema)
	return schema, err
}

func (n *NativeAnimation) SetParameters(ctx context.Context, values animation.ParameterValues) error {
	return n.notify(ctx, methodSetParameters, values)
}

func (n *NativeAnimation) GetParameters(ctx context.Context) (animation.ParameterValues, error) {
	values := animation.ParameterValues{}
	if err := n.call(ctx, methodGetParameters, nil, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (n *NativeAnimation) GetFPS(ctx context.Context) (float64, error) {
	var fps float64
	err := n.call(ctx, methodGetFPS, nil, &fps)
	return fps, err
}

func (n *NativeAnimation) Update(ctx context.Context, delta time.Duration) error {
	return n.notify(ctx, methodUpdate, updateParams{TimeDelta: delta.Seconds()})
}

func (n *NativeAnimation) OnEvent(ctx context.Context, event animation.Event) error {
	return n.notify(ctx, methodOnEvent, event)
}

func (n *NativeAnimation) Render(ctx context.Context) (light.Frame, error) {
	var frame light.Frame
	if err := n.call(ctx, methodRender, nil, &frame); err != nil {
		return nil, err
	}
	if len(frame) != n.lights {
		return nil, fmt.Errorf("plugin %s rendered %d pixels for %d lights", n.name, len(frame), n.lights)
	}
	return frame, nil
}

// Close closes the plugin's stdin, gives it a moment to exit and kills it
// otherwise. No message is sent.
func (n *NativeAnimation) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	n.stdin.Close()

	// Nobody reads replies any more.
	go func() {
		for range n.lines {
		}
	}()

	select {
	case <-n.exited:
	case <-time.After(closeGrace):
		n.cmd.Process.Kill()
		<-n.exited
	}
	n.logger.Info("plugin stopped")
	return nil
}
