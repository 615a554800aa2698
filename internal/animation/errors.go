package animation

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrProcessExited is returned once a native plugin's output stream has closed.
	ErrProcessExited = errors.New("plugin process exited")
	// ErrInvalidResponse is returned when a reply cannot be matched to its request.
	ErrInvalidResponse = errors.New("invalid plugin response")
	// ErrCallTimeout is returned when a plugin does not answer within the call timeout.
	ErrCallTimeout = errors.New("plugin call timed out")
	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("animation closed")
	// ErrInvalidParameter is returned when a value does not fit the parameter schema.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// JSON-RPC error codes used on the native plugin channel.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeAnimationError is the application code a plugin uses to report
	// its own failures, carrying a {"message": ...} payload.
	CodeAnimationError = -32000
)

// AnimationError is a failure the plugin reported about itself, such as a
// parameter payload it refused. It never invalidates the instance.
type AnimationError struct {
	Message string
}

func (e *AnimationError) Error() string {
	return "animation error: " + e.Message
}

// RPCError is a JSON-RPC error reply with a code other than CodeAnimationError.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CommunicationError means the channel to a plugin is broken: the process
// exited, the sandbox trapped or a reply was unusable. The instance that
// returned it must be discarded.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("plugin communication failed during %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err means the instance that produced it is unusable.
func IsFatal(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce) || errors.Is(err, ErrClosed)
}
