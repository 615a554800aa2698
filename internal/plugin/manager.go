package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/ayusman/glimmer/internal/animation"
	"github.com/ayusman/glimmer/internal/light"
)

// Config configures a Manager.
type Config struct {
	// Dir holds one subdirectory per plugin and standalone .crab archives.
	Dir string
	// Points are the light positions every instance is initialised with.
	Points []light.Point
	// Timeout bounds each plugin call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Manager discovers plugins and builds running, decorated instances of them.
type Manager struct {
	pluginDir string
	points    []light.Point
	timeout   time.Duration
	logger    *slog.Logger
	cache     wazero.CompilationCache

	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewManager creates a Manager for cfg.Dir. Call Discover to populate it.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	return &Manager{
		pluginDir: cfg.Dir,
		points:    cfg.Points,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "plugins"),
		cache:     wazero.NewCompilationCache(),
		plugins:   make(map[string]*Plugin),
	}
}

// Discover scans the plugin directory. Each subdirectory with a
// manifest.json and each standalone .crab archive is a candidate; candidates
// that fail validation are logged and skipped. Running Discover again over
// an unchanged directory yields the same catalog.
func (m *Manager) Discover() error {
	plugins := make(map[string]*Plugin)

	info, err := os.Stat(m.pluginDir)
	if os.IsNotExist(err) {
		m.replace(plugins)
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("plugin dir %s is not a directory", m.pluginDir)
	}

	entries, err := os.ReadDir(m.pluginDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(m.pluginDir, name)

		var (
			p   *Plugin
			err error
		)
		switch {
		case entry.IsDir():
			if _, statErr := os.Stat(filepath.Join(path, ManifestFile)); os.IsNotExist(statErr) {
				continue
			}
			p, err = loadDirPlugin(path)
		case strings.HasSuffix(name, ArchiveSuffix):
			p, err = loadArchivePlugin(path)
		default:
			continue
		}
		if err != nil {
			m.logger.Warn("skipping plugin", "path", path, "error", err)
			continue
		}
		if p.Manifest.ID == animation.BlankID {
			m.logger.Warn("skipping plugin with reserved id", "path", path, "id", p.Manifest.ID)
			continue
		}
		if existing, ok := plugins[p.Manifest.ID]; ok {
			m.logger.Warn("skipping duplicate plugin", "path", path, "id", p.Manifest.ID, "kept", existing.Path)
			continue
		}
		plugins[p.Manifest.ID] = p
	}

	m.replace(plugins)
	m.logger.Info("plugins discovered", "dir", m.pluginDir, "count", len(plugins))
	return nil
}

func (m *Manager) replace(plugins map[string]*Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = plugins
}

func readManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	manifest, err := ValidateManifest(raw)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return manifest, nil
}

func loadDirPlugin(dir string) (*Plugin, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	p := &Plugin{Manifest: *manifest, Path: dir}
	switch manifest.PluginType {
	case TypeNative:
		p.Executable = filepath.Join(dir, executableName(manifest.ID))
		if err := probe(p.Executable); err != nil {
			return nil, fmt.Errorf("plugin %s is not runnable: %w", manifest.ID, err)
		}
	case TypeWasm:
		p.Executable = filepath.Join(dir, ModuleFile)
		if _, err := os.Stat(p.Executable); err != nil {
			return nil, fmt.Errorf("plugin %s: %w", manifest.ID, err)
		}
	}
	return p, nil
}

// loadArchivePlugin reads a standalone archive. Its id is the file name
// without the .crab suffix.
func loadArchivePlugin(path string) (*Plugin, error) {
	manifest, _, err := readArchive(path)
	if err != nil {
		return nil, err
	}
	manifest.ID = strings.TrimSuffix(filepath.Base(path), ArchiveSuffix)
	if err := validateID(manifest.ID); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return &Plugin{Manifest: *manifest, Path: path, Executable: path}, nil
}

func executableName(id string) string {
	if runtime.GOOS == "windows" {
		return id + ".exe"
	}
	return id
}

// probe checks that path can be spawned. The process gets empty stdio and
// is stopped straight away.
func probe(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	if err := cmd.Start(); err != nil {
		return err
	}
	cmd.Process.Kill()
	cmd.Wait()
	return nil
}

// Get returns a plugin by id.
// Returns ErrPluginNotFound if the plugin does not exist.
func (m *Manager) Get(id string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return p, nil
}

// List returns all discovered plugins ordered by id.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.ID < plugins[j].Manifest.ID
	})
	return plugins
}

// Has reports whether id can be made, including the builtin blank animation.
func (m *Manager) Has(id string) bool {
	if id == animation.BlankID {
		return true
	}
	_, err := m.Get(id)
	return err == nil
}

// Lights returns the number of lights instances are built for.
func (m *Manager) Lights() int {
	return len(m.points)
}

// Make starts an instance of plugin id and wraps it in the standard
// decorator stack. The builtin id "blank" is always available.
func (m *Manager) Make(ctx context.Context, id string) (animation.Animation, error) {
	if id == animation.BlankID {
		return Decorate(animation.NewBlank(len(m.points))), nil
	}

	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	var inner animation.Animation
	switch p.Manifest.PluginType {
	case TypeNative:
		inner, err = StartNative(ctx, NativeConfig{
			Name:    id,
			Path:    p.Executable,
			Dir:     p.Path,
			Points:  m.points,
			Timeout: m.timeout,
			Logger:  m.logger,
		})
	case TypeWasm:
		inner, err = LoadWasm(ctx, WasmConfig{
			Name:    id,
			Path:    p.Executable,
			Points:  m.points,
			Timeout: m.timeout,
			Logger:  m.logger,
			Cache:   m.cache,
		})
	default:
		err = fmt.Errorf("plugin %s: unknown plugin_type %q", id, p.Manifest.PluginType)
	}
	if err != nil {
		return nil, err
	}
	return Decorate(inner), nil
}

// Decorate wraps a in the standard stack: on/off fading outermost, then
// speed, then brightness.
func Decorate(a animation.Animation) animation.Animation {
	return animation.NewOffSwitch(animation.NewSpeedControlled(animation.NewBrightnessControlled(a)))
}

// Install unpacks a .crab archive into <dir>/<id>/. Installing an archive
// whose manifest matches the installed one is a no-op; any other version
// replaces the plugin directory in one rename.
func (m *Manager) Install(archivePath string) (*Plugin, error) {
	manifest, module, err := readArchive(archivePath)
	if err != nil {
		return nil, err
	}
	if manifest.ID == animation.BlankID {
		return nil, &ConfigError{Path: archivePath, Err: fmt.Errorf("id %q is reserved", manifest.ID)}
	}

	target := filepath.Join(m.pluginDir, manifest.ID)
	installed := &Plugin{Manifest: *manifest, Path: target, Executable: filepath.Join(target, ModuleFile)}

	if current, err := readManifest(target); err == nil && reflect.DeepEqual(current, manifest) {
		if existing, err := os.ReadFile(installed.Executable); err == nil && bytes.Equal(existing, module) {
			m.logger.Info("plugin already installed", "id", manifest.ID, "version", manifest.Version)
			m.register(installed)
			return installed, nil
		}
	}

	if err := os.MkdirAll(m.pluginDir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin dir: %w", err)
	}
	staging, err := os.MkdirTemp(m.pluginDir, ".install-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	raw, err := jsonIndent(manifest)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(staging, ManifestFile), raw, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, ModuleFile), module, 0o644); err != nil {
		return nil, fmt.Errorf("write module: %w", err)
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return nil, fmt.Errorf("chmod staging dir: %w", err)
	}

	var retired string
	if _, err := os.Stat(target); err == nil {
		retired = filepath.Join(m.pluginDir, "."+manifest.ID+".old")
		os.RemoveAll(retired)
		if err := os.Rename(target, retired); err != nil {
			return nil, fmt.Errorf("move old plugin aside: %w", err)
		}
	}
	if err := os.Rename(staging, target); err != nil {
		if retired != "" {
			os.Rename(retired, target)
		}
		return nil, fmt.Errorf("install plugin %s: %w", manifest.ID, err)
	}
	if retired != "" {
		os.RemoveAll(retired)
	}

	m.logger.Info("plugin installed", "id", manifest.ID, "version", manifest.Version, "path", target)
	m.register(installed)
	return installed, nil
}

// Remove deletes an installed plugin from disk and from the catalog.
func (m *Manager) Remove(id string) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p.Path); err != nil {
		return fmt.Errorf("remove plugin %s: %w", id, err)
	}
	m.mu.Lock()
	delete(m.plugins, id)
	m.mu.Unlock()
	m.logger.Info("plugin removed", "id", id, "path", p.Path)
	return nil
}

func (m *Manager) register(p *Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[p.Manifest.ID] = p
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}

// Close releases compiled wasm modules.
func (m *Manager) Close() error {
	return m.cache.Close(context.Background())
}

func jsonIndent(v any) ([]byte, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(raw, '\n'), nil
}

// IsNotFound reports whether err means a plugin id is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPluginNotFound)
}
