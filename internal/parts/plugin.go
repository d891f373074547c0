package parts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/cruciblehq/rockcraft/internal/paths"
	"github.com/cruciblehq/rockcraft/internal/project"
)

const (

	// Builds nothing. The part only orders other parts or carries a source.
	PluginNil = "nil"

	// Installs the pulled source as is.
	PluginDump = "dump"
)

// Directories of a single part.
type partDirs struct {
	src     string // Pulled source.
	layer   string // Overlay view of the base.
	install string // Build output.
}

// Returns the working directories of a part.
func (e *Engine) partDirs(name string) partDirs {
	root := filepath.Join(e.PartsDir(), name)
	return partDirs{
		src:     filepath.Join(root, "src"),
		layer:   filepath.Join(root, "layer"),
		install: filepath.Join(root, "install"),
	}
}

// Returns the plugin of a part. A part without a plugin uses its own name
// as the plugin name.
func pluginFor(name string, p project.Part) (string, error) {
	plugin := p.Plugin
	if plugin == "" {
		plugin = name
	}

	switch plugin {
	case PluginNil, PluginDump:
	default:
		return "", fmt.Errorf("%w: part %q uses plugin %q", ErrUnsupportedPlugin, name, plugin)
	}

	if plugin == PluginDump && p.Source == "" {
		return "", fmt.Errorf("%w: part %q: the dump plugin requires a source", ErrUnsupportedSource, name)
	}
	if isRemote(p.Source) {
		return "", fmt.Errorf("%w: part %q: only local sources are supported, got %q", ErrUnsupportedSource, name, p.Source)
	}
	return plugin, nil
}

// Reports whether a source must be fetched over the network.
func isRemote(source string) bool {
	return strings.Contains(source, "://") ||
		strings.HasPrefix(source, "git@") ||
		strings.HasSuffix(source, ".git")
}

// Copies a local source into the part's source directory. A file source is
// placed inside the directory under its own name.
func (e *Engine) pull(dirs partDirs, p project.Part) error {
	if err := os.RemoveAll(dirs.src); err != nil {
		return err
	}
	if err := os.MkdirAll(dirs.src, paths.DefaultDirMode); err != nil {
		return err
	}
	if p.Source == "" {
		return nil
	}

	source := p.Source
	if !filepath.IsAbs(source) {
		source = filepath.Join(e.ProjectDir, source)
	}
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	dest := dirs.src
	if !info.IsDir() {
		dest = filepath.Join(dirs.src, filepath.Base(source))
	}
	return cp.Copy(source, dest, cp.Options{Skip: e.skipSource})
}

// Reports whether a path found in a local source is left out of the pull.
// The engine's own work tree and packed archives are skipped, so a part
// whose source is the project directory does not copy its own output.
func (e *Engine) skipSource(info os.FileInfo, src, _ string) (bool, error) {
	if !info.IsDir() {
		return filepath.Ext(src) == ".rock", nil
	}
	src = filepath.Clean(src)
	for _, dir := range []string{e.WorkDir, e.PartsDir(), e.StageDir(), e.PrimeDir()} {
		if src == filepath.Clean(dir) {
			return true, nil
		}
	}
	return false, nil
}

// Prepares the part's view of the base filesystem.
func overlay(dirs partDirs, baseLayerDir string) error {
	if baseLayerDir != "" {
		info, err := os.Stat(baseLayerDir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("base layer %s is not a directory", baseLayerDir)
		}
	}
	return os.MkdirAll(dirs.layer, paths.DefaultDirMode)
}

// Produces the part's install tree from its pulled source.
func build(dirs partDirs, plugin string) error {
	if err := os.RemoveAll(dirs.install); err != nil {
		return err
	}
	if err := os.MkdirAll(dirs.install, paths.DefaultDirMode); err != nil {
		return err
	}
	if plugin != PluginDump {
		return nil
	}
	return cp.Copy(dirs.src, dirs.install)
}

// Merges the contents of src into dest. A missing src contributes nothing.
func mergeInto(src, dest string) error {
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return cp.Copy(src, dest)
}
