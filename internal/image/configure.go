package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/paths"
	"github.com/cruciblehq/rockcraft/internal/pebble"
)

// Runtime configuration applied by [Image.Configure].
type Settings struct {
	Name         string                    // Image name, used in the supervisor layer file name.
	Version      string                    // Image version, recorded in the supervisor layer.
	Summary      string                    // Copied into the supervisor layer.
	Description  string                    // Copied into the supervisor layer.
	RunUser      string                    // Default user to create, empty for root.
	UID          int                       // Reserved id for RunUser.
	Services     map[string]pebble.Service // Supervisor services.
	Checks       map[string]pebble.Check   // Supervisor health checks.
	Environment  []string                  // "KEY=value" entries in declaration order.
	Entrypoint   []string                  // Declared entrypoint, superseded by the supervisor.
	Cmd          []string                  // Declared command, superseded by the supervisor.
	PrimeDir     string                    // Prime tree, already added as a layer.
	BaseLayerDir string                    // Extracted base filesystem.
}

// Applies runtime configuration in a fixed order: run-user, supervisor
// entrypoint, supervisor layer, environment.
//
// Each step replaces its own earlier result, so calling Configure again with
// the same settings yields the same image.
func (i *Image) Configure(ctx context.Context, s Settings) error {
	if err := i.addUser(ctx, s); err != nil {
		return fmt.Errorf("%w: run-user: %w", ErrConfigure, err)
	}

	i.setSupervisorEntrypoint(ctx, s)

	if err := i.addSupervisorLayer(ctx, s); err != nil {
		return fmt.Errorf("%w: services: %w", ErrConfigure, err)
	}

	i.setEnvironment(ctx, s.Environment)
	return nil
}

// Makes the supervisor the image's only entrypoint.
func (i *Image) setSupervisorEntrypoint(ctx context.Context, s Settings) {
	if len(s.Entrypoint) > 0 || len(s.Cmd) > 0 {
		emit.FromContext(ctx).Warning("entrypoint and cmd are ignored, the image always starts the service supervisor",
			"entrypoint", s.Entrypoint, "cmd", s.Cmd)
	}
	i.config.Config.Entrypoint = pebble.Entrypoint()
	i.config.Config.Cmd = nil
}

// Adds the supervisor layer when services or checks are declared, and
// removes it otherwise.
//
// The layer file takes the next order number after any layer files already
// shipped by the base or the prime tree.
func (i *Image) addSupervisorLayer(ctx context.Context, s Settings) error {
	delete(i.layers, layerSupervisor)
	if len(s.Services) == 0 && len(s.Checks) == 0 {
		return nil
	}

	var existing []string
	for _, root := range []string{s.BaseLayerDir, s.PrimeDir} {
		if root == "" {
			continue
		}
		names, err := listDir(filepath.Join(root, filepath.FromSlash(pebble.LayersDir)))
		if err != nil {
			return err
		}
		existing = append(existing, names...)
	}
	rel := pebble.LayerPath(existing, s.Name)

	b, err := pebble.Layer{
		Name:        s.Name,
		Version:     s.Version,
		Summary:     s.Summary,
		Description: s.Description,
		Services:    s.Services,
		Checks:      s.Checks,
	}.Marshal()
	if err != nil {
		return err
	}

	dir, err := i.scratch("supervisor")
	if err != nil {
		return err
	}
	file := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(file), paths.DefaultDirMode); err != nil {
		return err
	}
	if err := os.WriteFile(file, b, paths.DefaultFileMode); err != nil {
		return err
	}

	layer, err := i.buildLayer(dir, s.BaseLayerDir, "supervisor.tar")
	if err != nil {
		return err
	}
	i.layers[layerSupervisor] = layer

	emit.FromContext(ctx).Progress("added service supervisor layer", "file", rel,
		"services", len(s.Services), "checks", len(s.Checks))
	return nil
}

// Replaces the image environment. Nothing changes when env is empty.
func (i *Image) setEnvironment(ctx context.Context, env []string) {
	if len(env) == 0 {
		return
	}
	i.config.Config.Env = dedupeEnv(env)
	emit.FromContext(ctx).Debug("environment set", "env", i.config.Config.Env)
}

// Collapses duplicate keys. The last value wins and the key keeps the
// position of its first occurrence.
func dedupeEnv(env []string) []string {
	pos := make(map[string]int, len(env))
	out := make([]string, 0, len(env))
	for _, entry := range env {
		k, _, _ := strings.Cut(entry, "=")
		if p, ok := pos[k]; ok {
			out[p] = entry
			continue
		}
		pos[k] = len(out)
		out = append(out, entry)
	}
	return out
}
