// Package plugin discovers installed animation plugins and runs them, either
// as native subprocesses speaking JSON-RPC over stdio or as sandboxed wasm
// modules.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIVersion is the plugin protocol version this host speaks.
const APIVersion = "0.9"

// Type is the invocation kind of a plugin.
type Type string

// Plugin types.
const (
	TypeNative Type = "native"
	TypeWasm   Type = "wasm"
)

// Well known file names inside a plugin directory or archive.
const (
	ManifestFile  = "manifest.json"
	ModuleFile    = "plugin.wasm"
	ArchiveSuffix = ".crab"
)

const (
	maxManifestSize = 64 * 1024
	maxIDLen        = 128
	maxTags         = 32
)

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

// Manifest describes a plugin's identity and how it is invoked.
type Manifest struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Author      string   `json:"author"`
	PluginType  Type     `json:"plugin_type"`
	APIVersion  string   `json:"api_version"`
	Version     string   `json:"version"`
	Tags        []string `json:"tags"`
}

// ValidateManifest parses raw JSON into a Manifest and checks the fields the
// host relies on.
func ValidateManifest(raw []byte) (*Manifest, error) {
	if len(raw) > maxManifestSize {
		return nil, fmt.Errorf("manifest exceeds %d byte limit", maxManifestSize)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := validateID(m.ID); err != nil {
		return nil, err
	}
	switch m.PluginType {
	case TypeNative, TypeWasm:
	default:
		return nil, fmt.Errorf("manifest: unknown plugin_type %q", m.PluginType)
	}
	if m.APIVersion != APIVersion {
		return nil, fmt.Errorf("manifest: api_version %q is not supported, want %q", m.APIVersion, APIVersion)
	}
	if len(m.Tags) > maxTags {
		return nil, fmt.Errorf("manifest: exceeds %d tag limit", maxTags)
	}
	if m.DisplayName == "" {
		m.DisplayName = m.ID
	}
	return &m, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("manifest: id is required")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("manifest: id exceeds %d characters", maxIDLen)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("manifest: id %q is not a valid directory name", id)
	}
	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("manifest: id %q must not start with a dot", id)
	}
	return nil
}

// Plugin is a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest Manifest `json:"manifest"`
	// Path is the plugin directory, or the archive for a standalone
	// .crab file.
	Path string `json:"path"`
	// Executable is the native binary, the wasm module or the archive
	// holding it.
	Executable string `json:"executable"`
}

// ConfigError means a plugin's manifest is missing, unreadable or invalid.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("plugin config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UnwrapError means a plugin archive could not be unpacked, usually because
// a required entry is missing.
type UnwrapError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *UnwrapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin archive %s: entry %s: %v", e.Archive, e.Entry, e.Err)
	}
	return fmt.Sprintf("plugin archive %s: missing entry %s", e.Archive, e.Entry)
}

func (e *UnwrapError) Unwrap() error {
	return e.Err
}
