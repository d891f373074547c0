package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/google/go-cmp/cmp"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/image"
	"github.com/cruciblehq/rockcraft/internal/lifecycle"
	"github.com/cruciblehq/rockcraft/internal/project"
	"github.com/cruciblehq/rockcraft/internal/provider"
)

func testParser(t *testing.T, r *Root) *kong.Kong {
	t.Helper()
	parser, err := newParser(r, kong.Writers(io.Discard, io.Discard), kong.Exit(func(int) {}))
	if err != nil {
		t.Fatal(err)
	}
	return parser
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		verbosity string
		want      slog.Level
	}{
		{"quiet", slog.LevelWarn},
		{"brief", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", emit.LevelTrace},
	}
	for _, tt := range tests {
		t.Run(tt.verbosity, func(t *testing.T) {
			if got := levelFor(tt.verbosity); got != tt.want {
				t.Fatalf("levelFor(%q) = %v, want %v", tt.verbosity, got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"configuration", fmt.Errorf("%w: missing name", project.ErrConfiguration), exitError},
		{"base image", fmt.Errorf("%w: not found", image.ErrBaseImageFetch), exitError},
		{"build engine", fmt.Errorf("%w: boom", lifecycle.ErrBuildEngine), exitError},
		{"unsupported", fmt.Errorf("%w: clean", lifecycle.ErrUnsupportedOperation), exitError},
		{"provider", fmt.Errorf("%w: %w", provider.ErrProviderExecution, &provider.ExitError{Code: 3}), exitError},
		{"interrupted", errors.Join(context.Canceled, errors.New("killed")), exitInterrupted},
		{"internal", errors.New("nil pointer"), exitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseStepCommand(t *testing.T) {
	var r Root
	kctx, err := testParser(t, &r).Parse([]string{"stage", "hello", "world", "--shell-after", "--destructive-mode"})
	if err != nil {
		t.Fatal(err)
	}
	step, err := lifecycle.ParseStep(commandName(kctx))
	if err != nil {
		t.Fatal(err)
	}
	if step != lifecycle.StepStage {
		t.Fatalf("step = %v, want stage", step)
	}

	got := r.Stage.options(step, Args{"stage", "hello"})
	want := lifecycle.Options{
		Step:        lifecycle.StepStage,
		Parts:       []string{"hello", "world"},
		ShellAfter:  true,
		Destructive: true,
		Args:        []string{"stage", "hello"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	if r.Verbosity != "brief" {
		t.Fatalf("default verbosity = %q", r.Verbosity)
	}
}

func TestCommandName(t *testing.T) {
	for _, name := range []string{"clean", "pull", "overlay", "build", "stage", "prime"} {
		var r Root
		kctx, err := testParser(t, &r).Parse([]string{name})
		if err != nil {
			t.Fatal(err)
		}
		if got := commandName(kctx); got != name {
			t.Fatalf("commandName = %q, want %q", got, name)
		}
	}
}

func TestParsePack(t *testing.T) {
	var r Root
	if _, err := testParser(t, &r).Parse([]string{"--verbosity=debug", "pack", "-o", "out", "--debug"}); err != nil {
		t.Fatal(err)
	}
	if r.Pack.Output != "out" || !r.Pack.Debug || r.Pack.DestructiveMode {
		t.Fatalf("pack flags = %+v", r.Pack)
	}
	if r.Verbosity != "debug" {
		t.Fatalf("verbosity = %q", r.Verbosity)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"shell flags exclusive", []string{"pull", "--shell", "--shell-after"}},
		{"unknown verbosity", []string{"--verbosity=loud", "pull"}},
		{"unknown command", []string{"snap"}},
		{"pack takes no parts", []string{"pack", "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Root
			if _, err := testParser(t, &r).Parse(tt.args); err == nil {
				t.Fatalf("Parse(%q) succeeded", tt.args)
			}
		})
	}
}

func TestNewOrchestrator(t *testing.T) {
	p := &project.Project{Name: "hello", Parts: map[string]project.Part{"a": {}}}

	o := newOrchestrator(p, "/src/hello", false)
	if o.Project != p || o.ProjectDir != "/src/hello" || o.Managed {
		t.Fatalf("orchestrator = %+v", o)
	}
	if o.Engine.PrimeDir() != "/src/hello/work/prime" {
		t.Fatalf("host prime dir = %q", o.Engine.PrimeDir())
	}

	o = newOrchestrator(p, "/root/project", true)
	if o.Engine.PrimeDir() != "/root/prime" {
		t.Fatalf("managed prime dir = %q", o.Engine.PrimeDir())
	}
}
