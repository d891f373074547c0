package parts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/paths"
	"github.com/cruciblehq/rockcraft/internal/project"
)

// Runs part steps on the local filesystem.
//
// Each part gets its own directory under parts/ holding the pulled source,
// the build output and the completed-step markers. Built parts are merged
// into stage/ and prime/. A step that already completed is not run again
// until [Engine.Clean] removes the work tree.
type Engine struct {
	ProjectDir string                  // Directory holding the manifest; local sources are relative to it.
	WorkDir    string                  // Root of parts/, stage/ and prime/.
	Parts      map[string]project.Part // Parts as declared in the manifest.
}

// Creates an engine for the given parts.
func New(projectDir, workDir string, parts map[string]project.Part) *Engine {
	return &Engine{
		ProjectDir: projectDir,
		WorkDir:    workDir,
		Parts:      parts,
	}
}

// Directory holding per-part state.
func (e *Engine) PartsDir() string {
	return filepath.Join(e.WorkDir, "parts")
}

// Directory where built parts are merged.
func (e *Engine) StageDir() string {
	return filepath.Join(e.WorkDir, "stage")
}

// Directory holding the final payload.
func (e *Engine) PrimeDir() string {
	return filepath.Join(e.WorkDir, "prime")
}

// Runs every step up to and including target.
//
// When names is empty all parts run. Otherwise only the named parts run to
// target; the parts they depend on run at least through stage when target
// is build or later, so their output is available. baseLayerDir is the
// extracted base filesystem the parts build against.
//
// Plugins and sources of every part are checked before anything is written.
func (e *Engine) Run(ctx context.Context, target Step, names []string, baseLayerDir string) error {
	for _, name := range sortedNames(e.Parts) {
		if _, err := pluginFor(name, e.Parts[name]); err != nil {
			return err
		}
	}

	order, err := e.order()
	if err != nil {
		return err
	}
	targets, err := e.targets(target, names)
	if err != nil {
		return err
	}

	for _, dir := range []string{e.PartsDir(), e.StageDir(), e.PrimeDir()} {
		if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
			return err
		}
	}

	for _, name := range order {
		last, ok := targets[name]
		if !ok {
			continue
		}
		for _, step := range last.upTo() {
			if err := e.runStep(ctx, name, step, baseLayerDir); err != nil {
				return fmt.Errorf("%w: %s:%s: %w", ErrStep, name, step, err)
			}
		}
	}

	return nil
}

// Removes the work tree of every part.
func (e *Engine) Clean(ctx context.Context) error {
	for _, dir := range []string{e.PartsDir(), e.StageDir(), e.PrimeDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	emit.FromContext(ctx).Progress("cleaned parts", "dir", e.WorkDir)
	return nil
}

// Returns the last step to run for each selected part.
func (e *Engine) targets(target Step, names []string) (map[string]Step, error) {
	targets := make(map[string]Step)
	if len(names) == 0 {
		for name := range e.Parts {
			targets[name] = target
		}
		return targets, nil
	}

	depTarget := target
	if target >= StepBuild {
		depTarget = StepStage
	}

	var addDeps func(name string)
	addDeps = func(name string) {
		for _, dep := range e.Parts[name].After {
			if cur, ok := targets[dep]; ok && cur >= depTarget {
				continue
			}
			targets[dep] = depTarget
			addDeps(dep)
		}
	}

	for _, name := range names {
		if _, ok := e.Parts[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPart, name)
		}
		targets[name] = target
	}
	for _, name := range names {
		addDeps(name)
	}
	return targets, nil
}

// Returns part names so that every part follows the parts it runs after.
// Ties are broken by name.
func (e *Engine) order() ([]string, error) {
	pending := make(map[string]int, len(e.Parts))
	dependents := make(map[string][]string)
	for _, name := range sortedNames(e.Parts) {
		pending[name] = len(e.Parts[name].After)
		for _, dep := range e.Parts[name].After {
			if _, ok := e.Parts[dep]; !ok {
				return nil, fmt.Errorf("%w: %q (after of %q)", ErrUnknownPart, dep, name)
			}
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range sortedNames(e.Parts) {
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(e.Parts))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, d := range dependents[name] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(e.Parts) {
		return nil, ErrDependencyCycle
	}
	return order, nil
}

// Runs one step of one part unless it already completed.
func (e *Engine) runStep(ctx context.Context, name string, step Step, baseLayerDir string) error {
	marker := filepath.Join(e.PartsDir(), name, "state", step.String())
	if _, err := os.Stat(marker); err == nil {
		emit.FromContext(ctx).Trace("step already complete", "part", name, "step", step.String())
		return nil
	}

	emit.FromContext(ctx).Progress("running step", "part", name, "step", step.String())

	plugin, err := pluginFor(name, e.Parts[name])
	if err != nil {
		return err
	}
	dirs := e.partDirs(name)

	switch step {
	case StepPull:
		err = e.pull(dirs, e.Parts[name])
	case StepOverlay:
		err = overlay(dirs, baseLayerDir)
	case StepBuild:
		err = build(dirs, plugin)
	case StepStage:
		err = mergeInto(dirs.install, e.StageDir())
	case StepPrime:
		err = mergeInto(dirs.install, e.PrimeDir())
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(marker), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(marker, nil, paths.DefaultFileMode)
}

// Returns the keys of a part table in sorted order.
func sortedNames(m map[string]project.Part) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
