package plugin

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
)

// maxModuleSize bounds the wasm module streamed out of an archive.
const maxModuleSize = 64 << 20

// readArchiveEntry streams the archive at archivePath and returns the
// contents of the entry called name.
func readArchiveEntry(archivePath, name string, limit int64) ([]byte, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, &UnwrapError{Archive: archivePath, Entry: name, Err: err}
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, &UnwrapError{Archive: archivePath, Entry: name}
		}
		if err != nil {
			return nil, &UnwrapError{Archive: archivePath, Entry: name, Err: err}
		}
		if hdr.Typeflag != tar.TypeReg || path.Clean(hdr.Name) != name {
			continue
		}
		if hdr.Size > limit {
			return nil, &UnwrapError{Archive: archivePath, Entry: name, Err: fmt.Errorf("entry is %d bytes, limit is %d", hdr.Size, limit)}
		}
		data, err := io.ReadAll(io.LimitReader(tr, limit))
		if err != nil {
			return nil, &UnwrapError{Archive: archivePath, Entry: name, Err: err}
		}
		return data, nil
	}
}

// readArchive returns the validated manifest and the module of a .crab
// archive.
func readArchive(archivePath string) (*Manifest, []byte, error) {
	raw, err := readArchiveEntry(archivePath, ManifestFile, maxManifestSize)
	if err != nil {
		return nil, nil, err
	}
	manifest, err := ValidateManifest(raw)
	if err != nil {
		return nil, nil, &ConfigError{Path: archivePath, Err: err}
	}
	if manifest.PluginType != TypeWasm {
		return nil, nil, &ConfigError{Path: archivePath, Err: fmt.Errorf("archives carry wasm plugins, got plugin_type %q", manifest.PluginType)}
	}
	module, err := readArchiveEntry(archivePath, ModuleFile, maxModuleSize)
	if err != nil {
		return nil, nil, err
	}
	return manifest, module, nil
}

// WriteArchive packs a manifest and a wasm module into a .crab archive.
func WriteArchive(w io.Writer, manifest Manifest, module []byte) error {
	raw, err := jsonIndent(manifest)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(w)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{ManifestFile, raw},
		{ModuleFile, module},
	} {
		hdr := &tar.Header{Name: entry.name, Mode: 0o644, Size: int64(len(entry.data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write %s header: %w", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return fmt.Errorf("write %s: %w", entry.name, err)
		}
	}
	return tw.Close()
}
