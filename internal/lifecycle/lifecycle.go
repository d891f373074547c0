package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/image"
	"github.com/cruciblehq/rockcraft/internal/metadata"
	"github.com/cruciblehq/rockcraft/internal/parts"
	"github.com/cruciblehq/rockcraft/internal/paths"
	"github.com/cruciblehq/rockcraft/internal/plan"
	"github.com/cruciblehq/rockcraft/internal/project"
)

// Runs part steps and produces the prime directory.
type Engine interface {
	Run(ctx context.Context, target parts.Step, names []string, baseLayerDir string) error
	PrimeDir() string
	Clean(ctx context.Context) error
}

// Runs the tool inside an isolated instance.
type Gateway interface {
	Execute(ctx context.Context, projectName, projectDir, buildBase string, args []string) error
	Clean(ctx context.Context, projectName, projectDir string) error
}

// Resolves base images for a target platform.
type Resolver interface {
	Resolve(ctx context.Context, projectName, base, arch, variant string) (*image.Image, string, error)
	Clean() error
}

// Controls a single lifecycle invocation.
type Options struct {
	Step        Step     // Requested step.
	Parts       []string // Part names to run; empty means all parts.
	Shell       bool     // Open a shell instead of running the requested step.
	ShellAfter  bool     // Open a shell after the requested step.
	Debug       bool     // Open a shell when the step fails.
	Destructive bool     // Run on the host instead of an isolated instance.
	Output      string   // Directory for packed archives; defaults to the project directory.
	Args        []string // Command line, forwarded to the isolated instance.
}

// Opens an interactive shell in dir and returns when it exits.
type ShellFunc func(ctx context.Context, dir string) error

// Everything needed to pack one platform.
type PackResult struct {
	Project      *project.Project // Manifest being packed.
	Image        *image.Image     // Working copy of the base image.
	BaseDigest   digest.Digest    // Digest of the base before any change.
	BuildFor     string           // Target architecture.
	Variant      string           // Target architecture variant, may be empty.
	Suffix       string           // Platform entry name, used in the archive name.
	BaseLayerDir string           // Extracted base filesystem.
}

// Dispatches lifecycle steps.
//
// Platforms run sequentially, each one completing resolve, part steps and
// pack before the next starts. They share the image cache and overwrite the
// same "{project}:rockcraft-base" working tag, so an Orchestrator must not
// run concurrently with another one on the same work directory.
type Orchestrator struct {
	Project    *project.Project // Loaded manifest.
	ProjectDir string           // Directory holding the manifest.
	Managed    bool             // Whether running inside an isolated instance.
	Engine     Engine           // Part step runner.
	Gateway    Gateway          // Isolated instance runner.
	Resolver   Resolver         // Base image resolver.
	Shell      ShellFunc        // Opens an interactive shell; nil disables shells.
	Now        func() time.Time // Clock used for the creation time.
}

// Runs the requested step and returns the paths of packed archives.
//
// Outside an isolated instance, and unless destructive mode was requested,
// the invocation is forwarded to the gateway and nothing runs locally.
// Unsupported clean requests are rejected before any side effect.
func (o *Orchestrator) Run(ctx context.Context, opts Options) ([]string, error) {
	if err := reject(opts); err != nil {
		return nil, err
	}

	if !o.Managed && !opts.Destructive {
		return nil, o.delegate(ctx, opts)
	}

	if opts.Step == StepClean {
		return nil, o.clean(ctx)
	}

	infos := plan.New(o.Project.Platforms)
	if len(infos) == 0 {
		emit.FromContext(ctx).Warning("no platforms declared, nothing to do")
		return nil, nil
	}

	var archives []string
	for _, info := range infos {
		archive, err := o.runPlatform(ctx, info, opts)
		if err != nil {
			if opts.Debug {
				o.openShell(ctx)
			}
			return nil, err
		}
		if archive != "" {
			archives = append(archives, archive)
		}
	}
	return archives, nil
}

// Rejects requests that cannot be honoured.
func reject(opts Options) error {
	if opts.Step != StepClean {
		return nil
	}
	if len(opts.Parts) > 0 {
		return fmt.Errorf("%w: cleaning individual parts is not supported", ErrUnsupportedOperation)
	}
	if opts.Destructive {
		return fmt.Errorf("%w: clean is not supported in destructive mode", ErrUnsupportedOperation)
	}
	return nil
}

// Forwards the invocation to an isolated instance.
func (o *Orchestrator) delegate(ctx context.Context, opts Options) error {
	if o.Gateway == nil {
		return errors.New("no isolated instance provider configured")
	}

	p := o.Project
	if opts.Step == StepClean {
		return o.Gateway.Clean(ctx, p.Name, o.ProjectDir)
	}
	if p.BuildBase == "" {
		return fmt.Errorf("%w: build-base is required when base is %q", project.ErrConfiguration, project.BareBase)
	}

	args := opts.Args
	if opts.Step == StepPack && opts.Output != "" {
		rel, err := o.instanceOutput(opts.Output)
		if err != nil {
			return err
		}
		args = withOutput(args, rel)
	}

	emit.FromContext(ctx).Debug("running in isolated instance", "build-base", p.BuildBase, "args", args)
	return o.Gateway.Execute(ctx, p.Name, o.ProjectDir, p.BuildBase, args)
}

// Returns the output directory relative to the project directory, which is
// the only host directory mounted in the instance. A relative output is
// taken relative to the project directory.
func (o *Orchestrator) instanceOutput(output string) (string, error) {
	if !filepath.IsAbs(output) {
		output = filepath.Join(o.ProjectDir, output)
	}
	rel, err := filepath.Rel(filepath.Clean(o.ProjectDir), filepath.Clean(output))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: output directory %q must be inside the project directory %q", project.ErrConfiguration, output, o.ProjectDir)
	}
	return rel, nil
}

// Returns args with every -o/--output flag replaced by "--output dir".
func withOutput(args []string, dir string) []string {
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o" || a == "--output":
			i++
			continue
		case strings.HasPrefix(a, "--output="), strings.HasPrefix(a, "-o") && !strings.HasPrefix(a, "--"):
			continue
		}
		out = append(out, a)
	}
	return append(out, "--output", dir)
}

// Removes the part work tree and the image cache.
func (o *Orchestrator) clean(ctx context.Context) error {
	if err := o.Engine.Clean(ctx); err != nil {
		return err
	}
	return o.Resolver.Clean()
}

// Runs the requested step for one platform and packs it when asked.
func (o *Orchestrator) runPlatform(ctx context.Context, info plan.BuildInfo, opts Options) (string, error) {
	log := emit.FromContext(ctx)
	p := o.Project

	if info.IgnoresBuildOn() {
		log.Warning("build-on is not honoured, building on the target architecture",
			"platform", info.Platform, "build-on", info.DeclaredBuildOn, "build-for", info.BuildFor)
	}
	log.Progress("building platform", "platform", info.Platform, "build-for", info.BuildFor)

	img, rootfs, err := o.Resolver.Resolve(ctx, p.Name, p.Base, info.BuildFor, info.Variant)
	if err != nil {
		return "", err
	}

	target := opts.Step.partStep()
	if opts.Shell {
		if target > parts.StepPull {
			if err := o.Engine.Run(ctx, target-1, opts.Parts, rootfs); err != nil {
				return "", fmt.Errorf("%w: %w", ErrBuildEngine, err)
			}
		}
		o.openShell(ctx)
		return "", nil
	}

	if err := o.Engine.Run(ctx, target, opts.Parts, rootfs); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuildEngine, err)
	}

	if opts.ShellAfter {
		o.openShell(ctx)
		return "", nil
	}

	if opts.Step != StepPack {
		return "", nil
	}

	return o.pack(ctx, PackResult{
		Project:      p,
		Image:        img,
		BaseDigest:   img.BaseDigest(),
		BuildFor:     info.BuildFor,
		Variant:      info.Variant,
		Suffix:       info.Platform,
		BaseLayerDir: rootfs,
	}, opts.Output)
}

// Assembles, configures and exports one image. Returns the archive path.
func (o *Orchestrator) pack(ctx context.Context, r PackResult, output string) (string, error) {
	p := r.Project
	img := r.Image

	if output == "" {
		output = o.ProjectDir
	}
	if err := os.MkdirAll(output, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPack, err)
	}

	primeDir := o.Engine.PrimeDir()
	if err := img.AddLayer(ctx, p.Version, primeDir, r.BaseLayerDir); err != nil {
		return "", err
	}

	uid, _ := project.UID(p.RunUser)
	err := img.Configure(ctx, image.Settings{
		Name:         p.Name,
		Version:      p.Version,
		Summary:      p.Summary,
		Description:  p.Description,
		RunUser:      p.RunUser,
		UID:          uid,
		Services:     p.Services,
		Checks:       p.Checks,
		Environment:  p.Environ(),
		Entrypoint:   p.Entrypoint,
		Cmd:          p.Cmd,
		PrimeDir:     primeDir,
		BaseLayerDir: r.BaseLayerDir,
	})
	if err != nil {
		return "", err
	}

	created := o.now()
	annotations, control := metadata.Generate(p, created, r.BaseDigest)
	metadata.SetArchitecture(control, r.BuildFor, r.Variant)
	if err := img.SetMetadata(annotations, control, created); err != nil {
		return "", err
	}

	dest := filepath.Join(output, ArchiveName(p, r.Suffix))
	if err := image.Export(ctx, img, dest); err != nil {
		return "", err
	}

	emit.FromContext(ctx).Message("packed", "rock", dest)
	return dest, nil
}

// Opens the configured shell in the project directory.
func (o *Orchestrator) openShell(ctx context.Context) {
	if o.Shell == nil {
		return
	}
	if err := o.Shell(ctx, o.ProjectDir); err != nil {
		emit.FromContext(ctx).Warning("shell exited with an error", "error", err)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Returns the archive file name for a platform entry.
func ArchiveName(p *project.Project, suffix string) string {
	return fmt.Sprintf("%s_%s_%s.rock", p.Name, p.Version, suffix)
}

// Returns the directory holding parts, stage, prime and the image cache.
// On the host it is a "work" directory inside the project.
func WorkDir(projectDir string, managed bool) string {
	if managed {
		return paths.ManagedHome
	}
	return filepath.Join(projectDir, "work")
}
