package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/rockcraft/internal"
	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/image"
	"github.com/cruciblehq/rockcraft/internal/lifecycle"
	"github.com/cruciblehq/rockcraft/internal/parts"
	"github.com/cruciblehq/rockcraft/internal/project"
	"github.com/cruciblehq/rockcraft/internal/provider"
)

const (
	exitOK          = 0   // Success.
	exitError       = 1   // Classified failure, reported to the user.
	exitInternal    = 70  // Unexpected failure.
	exitInterrupted = 130 // Interrupted by a signal.
)

// Command line forwarded verbatim to an isolated instance.
type Args []string

// Represents the root command.
type Root struct {
	Verbosity string `help:"Set the verbosity level." enum:"quiet,brief,verbose,debug,trace" default:"brief"`

	Clean   StepCmd    `cmd:"" help:"${help_clean}"`
	Pull    StepCmd    `cmd:"" help:"${help_pull}"`
	Overlay StepCmd    `cmd:"" help:"${help_overlay}"`
	Build   StepCmd    `cmd:"" help:"${help_build}"`
	Stage   StepCmd    `cmd:"" help:"${help_stage}"`
	Prime   StepCmd    `cmd:"" help:"${help_prime}"`
	Pack    PackCmd    `cmd:"" help:"${help_pack}"`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parsed command line.
var RootCmd Root

// Classified failures, reported with their message and exit status 1.
var classified = []error{
	project.ErrConfiguration,
	image.ErrBaseImageFetch,
	image.ErrPlatformNotFound,
	image.ErrLayer,
	image.ErrConfigure,
	image.ErrExport,
	parts.ErrUnsupportedPlugin,
	parts.ErrUnsupportedSource,
	parts.ErrUnknownPart,
	parts.ErrDependencyCycle,
	parts.ErrStep,
	lifecycle.ErrBuildEngine,
	lifecycle.ErrUnsupportedOperation,
	lifecycle.ErrPack,
	provider.ErrProviderExecution,
}

// Parses arguments, configures logging, runs the selected subcommand and
// returns the process exit status.
//
// Internal errors panic instead of mapping to an exit status when debug mode
// is enabled.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[1:]

	parser, err := newParser(&RootCmd, kong.Bind(Args(args)))
	if err != nil {
		slog.Error(err.Error())
		return exitInternal
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		var perr *kong.ParseError
		if errors.As(err, &perr) && perr.Context != nil {
			perr.Context.PrintUsage(true)
		}
		return exitError
	}

	internal.LogLevel.Set(levelFor(RootCmd.Verbosity))
	ctx = emit.WithEmitter(ctx, emit.NewLogger(nil))
	kctx.BindTo(ctx, (*context.Context)(nil))

	err = kctx.Run()
	if ctx.Err() != nil && err != nil {
		err = errors.Join(context.Canceled, err)
	}

	code := exitCode(err)
	switch code {
	case exitOK:
	case exitInternal:
		if internal.IsDebug() {
			panic(err)
		}
		slog.Error(internal.Name+" internal error", "error", err)
	case exitInterrupted:
		slog.Warn("interrupted")
	default:
		slog.Error(err.Error())
	}
	return code
}

// Creates the command line parser for r.
func newParser(r *Root, options ...kong.Option) (*kong.Kong, error) {
	vars := kong.Vars{"version": internal.VersionString()}
	for s := lifecycle.StepClean; s <= lifecycle.StepPack; s++ {
		vars["help_"+s.String()] = s.Help()
	}

	options = append([]kong.Option{
		kong.Name(internal.Name),
		kong.Description("Build OCI images from a rockcraft.yaml project."),
		vars,
	}, options...)

	return kong.New(r, options...)
}

// Returns the log level for a verbosity name.
func levelFor(verbosity string) slog.Level {
	switch verbosity {
	case "quiet":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return emit.LevelTrace
	default:
		return slog.LevelInfo
	}
}

// Maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	for _, target := range classified {
		if errors.Is(err, target) {
			return exitError
		}
	}
	return exitInternal
}
