// Command solid is a native glimmer plugin that fills every light with one
// color, optionally pulsing. Build it next to its manifest:
//
//	go build -o plugins/solid/solid ./plugins/solid
//
// It speaks line-delimited JSON-RPC on stdin and stdout.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/light"
)

// Request is one JSON-RPC message from the host. Notifications have no ID.
type Request struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with an ID.
type Response struct {
	ID     uint64     `json:"id"`
	Result any        `json:"result"`
	Error  *RPCFailure `json:"error,omitempty"`
}

// RPCFailure is a JSON-RPC error object.
type RPCFailure struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

const (
	modeSolid = "solid"
	modePulse = "pulse"
)

var schema = animation.ParameterSchema{Parameters: []animation.Parameter{
	{ID: "color", Name: "Color", Kind: animation.ParameterKind{Type: animation.TypeColor}},
	{ID: "mode", Name: "Mode", Kind: animation.ParameterKind{Type: animation.TypeEnum, Values: []string{modeSolid, modePulse}}},
	{ID: "period", Name: "Period", Description: "Pulse period in seconds", Kind: animation.ParameterKind{Type: animation.TypeNumber, Min: 0.1, Max: 60, Step: 0.1}},
}}

// state is the animation itself.
type state struct {
	lights  int
	color   light.Pixel
	mode    string
	period  float64
	elapsed float64
}

func newState() *state {
	return &state{color: light.Pixel{R: 255, G: 160, B: 60}, mode: modeSolid, period: 2}
}

func (s *state) parameters() animation.ParameterValues {
	return animation.ParameterValues{
		"color":  animation.Color(s.color),
		"mode":   animation.Enum(s.mode),
		"period": animation.Number(s.period),
	}
}

func (s *state) apply(values animation.ParameterValues) error {
	if err := schema.Validate(values); err != nil {
		return err
	}
	if v, ok := values["color"]; ok {
		s.color = v.Color
	}
	if v, ok := values["mode"]; ok {
		s.mode = v.Enum
	}
	if v, ok := values["period"]; ok {
		s.period = v.Number
	}
	return nil
}

func (s *state) fps() float64 {
	if s.mode == modePulse {
		return 30
	}
	return 0
}

func (s *state) render() light.Frame {
	level := 1.0
	if s.mode == modePulse {
		level = 0.5 - 0.5*math.Cos(2*math.Pi*s.elapsed/s.period)
	}
	frame := make(light.Frame, s.lights)
	px := s.color.Scale(level)
	for i := range frame {
		frame[i] = px
	}
	return frame
}

func main() {
	if err := serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "solid:", err)
		os.Exit(1)
	}
}

// serve handles requests until in is closed.
func serve(in io.Reader, out io.Writer) error {
	s := newState()
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16<<20)

	for sc.Scan() {
		var req Request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			fmt.Fprintf(os.Stderr, "solid: bad request: %v\n", err)
			continue
		}
		result, err := s.handle(req)
		if req.ID == nil {
			if err != nil {
				fmt.Fprintf(os.Stderr, "solid: %s: %v\n", req.Method, err)
			}
			continue
		}

		resp := Response{ID: *req.ID, Result: result}
		if err != nil {
			resp.Result = nil
			resp.Error = &RPCFailure{
				Code:    animation.CodeAnimationError,
				Message: "Animation Error",
				Data:    map[string]string{"message": err.Error()},
			}
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *state) handle(req Request) (any, error) {
	switch req.Method {
	case "Initialize":
		var p struct {
			Points []light.Point `json:"points"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("initialize: %w", err)
		}
		s.lights = len(p.Points)
		return nil, nil
	case "AnimationName":
		return "Solid", nil
	case "ParameterSchema":
		return schema, nil
	case "SetParameters":
		var values animation.ParameterValues
		if err := json.Unmarshal(req.Params, &values); err != nil {
			return nil, err
		}
		return nil, s.apply(values)
	case "GetParameters":
		return s.parameters(), nil
	case "GetFps":
		return s.fps(), nil
	case "Update":
		var p struct {
			TimeDelta float64 `json:"time_delta"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		s.elapsed += p.TimeDelta
		return nil, nil
	case "OnEvent":
		return nil, nil
	case "Render":
		return s.render(), nil
	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}
