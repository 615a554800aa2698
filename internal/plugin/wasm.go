package plugin

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/light"
)

// Functions a wasm plugin exports. destroy is optional.
const (
	exportAlloc         = "alloc"
	exportDealloc       = "dealloc"
	exportConstruct     = "construct"
	exportUpdate        = "update"
	exportRender        = "render"
	exportGetSchema     = "get_schema"
	exportGetParameters = "get_parameters"
	exportSetParameters = "set_parameters"
	exportGetFPS        = "get_fps"
	exportOnEvent       = "on_event"
	exportDestroy       = "destroy"
)

var requiredExports = []string{
	exportAlloc, exportDealloc, exportConstruct, exportUpdate, exportRender,
	exportGetSchema, exportGetParameters, exportSetParameters, exportGetFPS, exportOnEvent,
}

// WasmConfig configures a sandboxed plugin.
type WasmConfig struct {
	// Name identifies the plugin in logs.
	Name string
	// Path is a bare .wasm module or a .crab archive holding one.
	Path    string
	Points  []light.Point
	Timeout time.Duration
	Logger  *slog.Logger
	// Cache shares compiled modules between instances. Optional.
	Cache wazero.CompilationCache
}

// WasmAnimation runs a plugin module inside a wazero sandbox. The module
// gets no filesystem, network, environment or arguments; WASI is present
// only so that libc shims link, and its stdout and stderr go to the log.
//
// The runtime and the module instance are owned together and released
// together by Close. Calls are serialised and each one runs under the call
// timeout. A trap poisons the instance.
type WasmAnimation struct {
	name    string
	lights  int
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	handle  uint64
	broken  error
	closed  bool
}

// LoadWasm instantiates the module at cfg.Path and constructs an instance
// for cfg.Points.
func LoadWasm(ctx context.Context, cfg WasmConfig) (*WasmAnimation, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Path
	}

	code, err := loadModuleBytes(cfg.Path)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("plugin", cfg.Name, "instance", uuid.NewString())

	rcfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.Cache != nil {
		rcfg = rcfg.WithCompilationCache(cfg.Cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	w := &WasmAnimation{
		name:    cfg.Name,
		lights:  len(cfg.Points),
		timeout: cfg.Timeout,
		logger:  logger,
		runtime: rt,
	}
	if err := w.instantiate(ctx, code); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("load plugin %s: %w", cfg.Name, err)
	}
	if err := w.construct(ctx, cfg.Points); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("construct plugin %s: %w", cfg.Name, err)
	}
	logger.Info("plugin started", "lights", w.lights, "sandbox", "wasm")
	return w, nil
}

func loadModuleBytes(path string) ([]byte, error) {
	if strings.HasSuffix(path, ArchiveSuffix) {
		return readArchiveEntry(path, ModuleFile, maxModuleSize)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	return code, nil
}

func (w *WasmAnimation) instantiate(ctx context.Context, code []byte) error {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, w.runtime); err != nil {
		return fmt.Errorf("wasi: %w", err)
	}
	compiled, err := w.runtime.CompileModule(ctx, code)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	mcfg := wazero.NewModuleConfig().
		WithName("").
		WithStdout(newOutputLogger(w.logger, "stdout")).
		WithStderr(newOutputLogger(w.logger, "stderr")).
		WithStartFunctions("_initialize")

	mod, err := w.runtime.InstantiateModule(ctx, compiled, mcfg)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	memory := mod.ExportedMemory("memory")
	if memory == nil {
		return fmt.Errorf("module exports no memory")
	}
	for _, name := range requiredExports {
		if mod.ExportedFunction(name) == nil {
			return fmt.Errorf("module does not export %s", name)
		}
	}
	w.module = mod
	w.memory = memory
	return nil
}

func (w *WasmAnimation) construct(ctx context.Context, points []light.Point) error {
	buf := make([]byte, 0, len(points)*24)
	for _, p := range points {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.X))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Y))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Z))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.callWithBytes(ctx, exportConstruct, buf)
	if err != nil {
		return err
	}
	w.handle = uint64(api.DecodeU32(res[0]))
	return nil
}

func (w *WasmAnimation) usable() error {
	if w.closed {
		return animation.ErrClosed
	}
	return w.broken
}

func (w *WasmAnimation) poison(op string, err error) error {
	ce := &animation.CommunicationError{Op: op, Err: err}
	w.broken = ce
	w.logger.Error("plugin instance unusable", "op", op, "error", err)
	return ce
}

// begin rejects a call whose caller has already given up. Once a call has
// started, its steps run to completion. The caller holds mu.
func (w *WasmAnimation) begin(ctx context.Context) error {
	if err := w.usable(); err != nil {
		return err
	}
	return ctx.Err()
}

// invoke calls an export under the call timeout. The runtime closes the
// module when the call context ends, so the call runs detached from the
// caller's cancellation and only the call timeout interrupts the guest.
// The caller holds mu.
func (w *WasmAnimation) invoke(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if err := w.usable(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	res, err := w.module.ExportedFunction(name).Call(ctx, params...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, w.poison(name, fmt.Errorf("%w: %v", animation.ErrCallTimeout, err))
		}
		return nil, w.poison(name, err)
	}
	return res, nil
}

// writeGuest copies data into guest memory obtained from alloc. The caller
// frees it with dealloc.
func (w *WasmAnimation) writeGuest(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	res, err := w.invoke(ctx, exportAlloc, api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(res[0])
	if !w.memory.Write(ptr, data) {
		return 0, w.poison(exportAlloc, fmt.Errorf("%w: alloc returned %d for %d bytes outside memory", animation.ErrInvalidResponse, ptr, len(data)))
	}
	return ptr, nil
}

func (w *WasmAnimation) free(ctx context.Context, ptr, size uint32) {
	if size == 0 {
		return
	}
	w.invoke(ctx, exportDealloc, api.EncodeU32(ptr), api.EncodeU32(size))
}

// callWithBytes passes data as a (ptr, len) pair after the handle, if the
// instance has one yet.
func (w *WasmAnimation) callWithBytes(ctx context.Context, name string, data []byte) ([]uint64, error) {
	ptr, err := w.writeGuest(ctx, data)
	if err != nil {
		return nil, err
	}
	size := uint32(len(data))
	params := []uint64{api.EncodeU32(ptr), api.EncodeU32(size)}
	if name != exportConstruct {
		params = append([]uint64{w.handle}, params...)
	}
	res, err := w.invoke(ctx, name, params...)
	if err != nil {
		return nil, err
	}
	w.free(ctx, ptr, size)
	return res, nil
}

// readPacked copies out a ptr<<32|len result and releases the guest buffer.
func (w *WasmAnimation) readPacked(ctx context.Context, op string, packed uint64) ([]byte, error) {
	ptr, size := uint32(packed>>32), uint32(packed)
	if size == 0 {
		return nil, nil
	}
	view, ok := w.memory.Read(ptr, size)
	if !ok {
		return nil, w.poison(op, fmt.Errorf("%w: result %d+%d outside memory", animation.ErrInvalidResponse, ptr, size))
	}
	out := append([]byte(nil), view...)
	w.free(ctx, ptr, size)
	return out, nil
}

func (w *WasmAnimation) callJSON(ctx context.Context, name string, out any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.begin(ctx); err != nil {
		return err
	}
	res, err := w.invoke(ctx, name, w.handle)
	if err != nil {
		return err
	}
	data, err := w.readPacked(ctx, name, res[0])
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return w.poison(name, fmt.Errorf("%w: %v", animation.ErrInvalidResponse, err))
	}
	return nil
}

func (w *WasmAnimation) AnimationName(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name, w.usable()
}

func (w *WasmAnimation) ParameterSchema(ctx context.Context) (animation.ParameterSchema, error) {
	var schema animation.ParameterSchema
	err := w.callJSON(ctx, exportGetSchema, &schema)
	return schema, err
}

func (w *WasmAnimation) GetParameters(ctx context.Context) (animation.ParameterValues, error) {
	values := animation.ParameterValues{}
	if err := w.callJSON(ctx, exportGetParameters, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (w *WasmAnimation) SetParameters(ctx context.Context, values animation.ParameterValues) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin(ctx); err != nil {
		return err
	}
	res, err := w.callWithBytes(ctx, exportSetParameters, data)
	if err != nil {
		return err
	}
	msg, err := w.readPacked(ctx, exportSetParameters, res[0])
	if err != nil {
		return err
	}
	if len(msg) > 0 {
		return &animation.AnimationError{Message: string(msg)}
	}
	return nil
}

func (w *WasmAnimation) GetFPS(ctx context.Context) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin(ctx); err != nil {
		return 0, err
	}
	res, err := w.invoke(ctx, exportGetFPS, w.handle)
	if err != nil {
		return 0, err
	}
	return api.DecodeF64(res[0]), nil
}

func (w *WasmAnimation) Update(ctx context.Context, delta time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin(ctx); err != nil {
		return err
	}
	_, err := w.invoke(ctx, exportUpdate, w.handle, api.EncodeF64(delta.Seconds()))
	return err
}

func (w *WasmAnimation) OnEvent(ctx context.Context, event animation.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin(ctx); err != nil {
		return err
	}
	_, err = w.callWithBytes(ctx, exportOnEvent, data)
	return err
}

func (w *WasmAnimation) Render(ctx context.Context) (light.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.begin(ctx); err != nil {
		return nil, err
	}
	res, err := w.invoke(ctx, exportRender, w.handle)
	if err != nil {
		return nil, err
	}
	data, err := w.readPacked(ctx, exportRender, res[0])
	if err != nil {
		return nil, err
	}
	if len(data)%3 != 0 {
		return nil, w.poison(exportRender, fmt.Errorf("%w: %d pixel bytes is not a multiple of 3", animation.ErrInvalidResponse, len(data)))
	}
	if len(data)/3 != w.lights {
		return nil, fmt.Errorf("plugin %s rendered %d pixels for %d lights", w.name, len(data)/3, w.lights)
	}
	frame := make(light.Frame, w.lights)
	for i := range frame {
		frame[i] = light.Pixel{R: data[i*3], G: data[i*3+1], B: data[i*3+2]}
	}
	return frame, nil
}

// Close destroys the guest instance if the module supports it and releases
// the runtime together with the module.
func (w *WasmAnimation) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if w.broken == nil && w.module.ExportedFunction(exportDestroy) != nil {
		w.invoke(context.Background(), exportDestroy, w.handle)
	}
	w.closed = true
	w.logger.Info("plugin stopped")
	return w.runtime.Close(context.Background())
}
