package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/light"
)

const helperEnv = "GLIMMER_HELPER_PLUGIN"

// TestHelperProcess is not a real test. It is the native plugin the other
// tests spawn: the test binary re-executed with helperEnv set.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	mode := "white"
	if len(args) > 1 {
		mode = args[1]
	}
	runHelperPlugin(mode, os.Stdin, os.Stdout)
	os.Exit(0)
}

// helperConfig returns a NativeConfig that runs the helper plugin in mode.
func helperConfig(t *testing.T, mode string, points int) NativeConfig {
	t.Helper()
	t.Setenv(helperEnv, "1")
	return NativeConfig{
		Name:    "helper-" + mode,
		Path:    os.Args[0],
		Args:    []string{"-test.run=^TestHelperProcess$", "--", mode},
		Points:  testPoints(points),
		Timeout: 2 * time.Second,
	}
}

// writeHelperPlugin installs the helper plugin as a native plugin directory
// under dir.
func writeHelperPlugin(t *testing.T, dir, id, mode string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper plugin scripts need a POSIX shell")
	}
	t.Setenv(helperEnv, "1")

	pluginDir := filepath.Join(dir, id)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	writeManifest(t, pluginDir, Manifest{ID: id, DisplayName: id, PluginType: TypeNative, APIVersion: APIVersion, Version: "1.0.0"})

	script := fmt.Sprintf("#!/bin/sh\nexec %q -test.run='^TestHelperProcess$' -- %s\n", os.Args[0], mode)
	if err := os.WriteFile(filepath.Join(pluginDir, id), []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write plugin script: %v", err)
	}
}

func writeManifest(t *testing.T, dir string, m Manifest) {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func testPoints(n int) []light.Point {
	points := make([]light.Point, n)
	for i := range points {
		points[i] = light.Point{X: float64(i), Y: 0.5, Z: -1}
	}
	return points
}

type helperMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// runHelperPlugin answers the native protocol. It renders every light in
// its color parameter (white by default). mode changes how Render answers.
func runHelperPlugin(mode string, in io.Reader, out io.Writer) {
	enc := json.NewEncoder(out)
	reply := func(id *uint64, result any) {
		enc.Encode(map[string]any{"id": *id, "result": result})
	}
	fail := func(id *uint64, code int, message, detail string) {
		enc.Encode(map[string]any{"id": *id, "error": map[string]any{
			"code": code, "message": message, "data": map[string]string{"message": detail},
		}})
	}

	lights := 0
	color := light.Pixel{R: 255, G: 255, B: 255}
	elapsed := 0.0
	events := 0

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		var msg helperMessage
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			fmt.Fprintln(os.Stderr, "helper: bad request:", err)
			continue
		}

		switch msg.Method {
		case "Initialize":
			var p struct {
				Points []light.Point `json:"points"`
			}
			json.Unmarshal(msg.Params, &p)
			lights = len(p.Points)
			fmt.Fprintf(os.Stderr, "helper: initialized with %d lights\n", lights)
		case "SetParameters":
			var values animation.ParameterValues
			json.Unmarshal(msg.Params, &values)
			if v, ok := values["color"]; ok {
				color = v.Color
			}
		case "Update":
			var p struct {
				TimeDelta float64 `json:"time_delta"`
			}
			json.Unmarshal(msg.Params, &p)
			elapsed += p.TimeDelta
		case "OnEvent":
			events++
		}

		if msg.ID == nil {
			continue
		}

		switch msg.Method {
		case "Initialize":
			reply(msg.ID, nil)
		case "AnimationName":
			reply(msg.ID, "White")
		case "ParameterSchema":
			reply(msg.ID, animation.ParameterSchema{Parameters: []animation.Parameter{
				{ID: "color", Name: "Color", Kind: animation.ParameterKind{Type: animation.TypeColor}},
			}})
		case "GetParameters":
			if mode == "animerr" {
				fail(msg.ID, animation.CodeAnimationError, "Animation Error", "parameters unavailable")
				continue
			}
			reply(msg.ID, animation.ParameterValues{
				"color":   animation.Color(color),
				"elapsed": animation.Number(elapsed),
				"events":  animation.Number(float64(events)),
			})
		case "GetFps":
			reply(msg.ID, 10.0)
		case "Render":
			switch mode {
			case "exit":
				os.Exit(0)
			case "garbage":
				fmt.Fprintln(out, "this is not json")
			case "wrongid":
				enc.Encode(map[string]any{"id": *msg.ID + 100, "result": []light.Pixel{}})
			case "hang":
				time.Sleep(time.Hour)
			case "slow":
				time.Sleep(300 * time.Millisecond)
				frame := make(light.Frame, lights)
				for i := range frame {
					frame[i] = color
				}
				reply(msg.ID, frame)
			case "animerr":
				fail(msg.ID, -32603, "Animation Error", "no frames today")
			case "short":
				reply(msg.ID, make(light.Frame, lights/2))
			default:
				frame := make(light.Frame, lights)
				for i := range frame {
					frame[i] = color
				}
				reply(msg.ID, frame)
			}
		default:
			fail(msg.ID, animation.CodeMethodNotFound, "Method not found", msg.Method)
		}
	}
}
