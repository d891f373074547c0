package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/rockcraft/internal"
	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/image"
	"github.com/cruciblehq/rockcraft/internal/lifecycle"
	"github.com/cruciblehq/rockcraft/internal/parts"
	"github.com/cruciblehq/rockcraft/internal/project"
	"github.com/cruciblehq/rockcraft/internal/provider"
)

// Flags shared by every lifecycle command.
type BuildFlags struct {
	Debug           bool `help:"Shell into the environment if the build fails."`
	DestructiveMode bool `help:"Build on the host instead of an isolated instance."`
}

// Represents the part step commands: clean, pull, overlay, build, stage and
// prime. The step is taken from the command name.
type StepCmd struct {
	Parts      []string `arg:"" optional:"" name:"part-name" help:"Parts to process; all parts when omitted."`
	Shell      bool     `xor:"shell" help:"Shell into the environment in lieu of the step to run."`
	ShellAfter bool     `xor:"shell" help:"Shell into the environment after the step has run."`

	BuildFlags `embed:""`
}

// Executes the selected step.
func (c *StepCmd) Run(ctx context.Context, kctx *kong.Context, args Args) error {
	step, err := lifecycle.ParseStep(commandName(kctx))
	if err != nil {
		return err
	}
	return runLifecycle(ctx, c.options(step, args))
}

// Returns the lifecycle options for step.
func (c *StepCmd) options(step lifecycle.Step, args Args) lifecycle.Options {
	return lifecycle.Options{
		Step:        step,
		Parts:       c.Parts,
		Shell:       c.Shell,
		ShellAfter:  c.ShellAfter,
		Debug:       c.Debug,
		Destructive: c.DestructiveMode,
		Args:        args,
	}
}

// Returns the name of the selected command without its arguments.
func commandName(kctx *kong.Context) string {
	name, _, _ := strings.Cut(kctx.Command(), " ")
	return name
}

// Represents the 'rockcraft pack' command.
type PackCmd struct {
	Output string `short:"o" help:"Directory for the packed archives." placeholder:"DIR"`

	BuildFlags `embed:""`
}

// Executes the pack command.
//
// Every platform declared in the project is built and exported to
// "{name}_{version}_{platform}.rock" in the output directory.
func (c *PackCmd) Run(ctx context.Context, args Args) error {
	return runLifecycle(ctx, lifecycle.Options{
		Step:        lifecycle.StepPack,
		Debug:       c.Debug,
		Destructive: c.DestructiveMode,
		Output:      c.Output,
		Args:        args,
	})
}

// Loads the project in the working directory and runs opts against it.
func runLifecycle(ctx context.Context, opts lifecycle.Options) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	p, err := project.Load(filepath.Join(dir, project.Filename))
	if err != nil {
		return err
	}

	managed := internal.IsManaged()
	emit.FromContext(ctx).Debug("loaded project", "name", p.Name, "step", opts.Step, "managed", managed)

	_, err = newOrchestrator(p, dir, managed).Run(ctx, opts)
	return err
}

// Wires the lifecycle components for a project in dir.
func newOrchestrator(p *project.Project, dir string, managed bool) *lifecycle.Orchestrator {
	work := lifecycle.WorkDir(dir, managed)
	return &lifecycle.Orchestrator{
		Project:    p,
		ProjectDir: dir,
		Managed:    managed,
		Engine:     parts.New(dir, work, p.Parts),
		Gateway:    provider.New(internal.ContainerdAddress()),
		Resolver:   image.NewResolver(work),
		Shell:      lifecycle.InteractiveShell,
	}
}
