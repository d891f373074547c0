package parts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cruciblehq/rockcraft/internal/project"
)

// Writes files under root.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// Returns the slash-separated paths of regular files under root.
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestParseStep(t *testing.T) {
	for _, s := range []Step{StepPull, StepOverlay, StepBuild, StepStage, StepPrime} {
		got, err := ParseStep(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseStep(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStep("pack"); err == nil {
		t.Fatal("ParseStep(pack) succeeded")
	}
}

func TestRunNilPlugin(t *testing.T) {
	work := t.TempDir()
	e := New(t.TempDir(), work, map[string]project.Part{"hello": {Plugin: "nil"}})

	if err := e.Run(context.Background(), StepPrime, nil, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(e.PrimeDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("prime has %d entries, want none", len(entries))
	}
	for _, step := range []string{"pull", "overlay", "build", "stage", "prime"} {
		if _, err := os.Stat(filepath.Join(e.PartsDir(), "hello", "state", step)); err != nil {
			t.Fatalf("step %s not recorded: %v", step, err)
		}
	}
}

func TestRunDumpPlugin(t *testing.T) {
	projectDir := t.TempDir()
	writeFiles(t, projectDir, map[string]string{
		"files/usr/bin/hello": "#!/bin/sh\necho hi\n",
		"files/etc/hello":     "config",
		"extra.txt":           "extra",
	})

	e := New(projectDir, t.TempDir(), map[string]project.Part{
		"files": {Plugin: "dump", Source: "files"},
		"extra": {Plugin: "dump", Source: "extra.txt", After: []string{"files"}},
	})

	if err := e.Run(context.Background(), StepPrime, nil, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"etc/hello", "extra.txt", "usr/bin/hello"}
	if diff := cmp.Diff(want, listFiles(t, e.PrimeDir())); diff != "" {
		t.Fatalf("prime mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, listFiles(t, e.StageDir())); diff != "" {
		t.Fatalf("stage mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDumpProjectDirectory(t *testing.T) {
	tests := []struct {
		name string
		work func(project string) string
	}{
		{"work tree is the project", func(p string) string { return p }},
		{"work tree inside the project", func(p string) string { return filepath.Join(p, "work") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, map[string]string{
				"rockcraft.yaml":     "name: app\n",
				"app/bin/run":        "#!/bin/sh\n",
				"app_0.9_amd64.rock": "old archive",
			})
			e := New(dir, tt.work(dir), map[string]project.Part{"app": {Plugin: "dump", Source: "."}})

			if err := e.Run(context.Background(), StepPrime, nil, ""); err != nil {
				t.Fatalf("Run: %v", err)
			}

			want := []string{"app/bin/run", "rockcraft.yaml"}
			if diff := cmp.Diff(want, listFiles(t, e.PrimeDir())); diff != "" {
				t.Fatalf("prime mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunStopsAtTarget(t *testing.T) {
	projectDir := t.TempDir()
	writeFiles(t, projectDir, map[string]string{"src/a": "a"})
	e := New(projectDir, t.TempDir(), map[string]project.Part{"a": {Plugin: "dump", Source: "src"}})

	if err := e.Run(context.Background(), StepBuild, nil, ""); err != nil {
		t.Fatal(err)
	}
	if files := listFiles(t, e.StageDir()); len(files) != 0 {
		t.Fatalf("stage populated by build: %v", files)
	}
	if diff := cmp.Diff([]string{"a"}, listFiles(t, filepath.Join(e.PartsDir(), "a", "install"))); diff != "" {
		t.Fatalf("install mismatch (-want +got):\n%s", diff)
	}
}

func TestRunNamedPartStagesDependencies(t *testing.T) {
	projectDir := t.TempDir()
	writeFiles(t, projectDir, map[string]string{"lib/x": "x", "app/y": "y", "other/z": "z"})
	e := New(projectDir, t.TempDir(), map[string]project.Part{
		"lib":   {Plugin: "dump", Source: "lib"},
		"app":   {Plugin: "dump", Source: "app", After: []string{"lib"}},
		"other": {Plugin: "dump", Source: "other"},
	})

	if err := e.Run(context.Background(), StepBuild, []string{"app"}, ""); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"x"}, listFiles(t, e.StageDir())); diff != "" {
		t.Fatalf("stage mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(e.PartsDir(), "other")); !os.IsNotExist(err) {
		t.Fatalf("unselected part ran: %v", err)
	}
}

func TestOrder(t *testing.T) {
	e := New("", "", map[string]project.Part{
		"c": {After: []string{"a"}},
		"b": {},
		"a": {After: []string{"b"}},
		"d": {},
	})
	got, err := e.order()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b", "a", "c", "d"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		parts   map[string]project.Part
		names   []string
		wantErr error
	}{
		{"unknown plugin", map[string]project.Part{"a": {Plugin: "go"}}, nil, ErrUnsupportedPlugin},
		{"plugin defaults to part name", map[string]project.Part{"hello": {}}, nil, ErrUnsupportedPlugin},
		{"remote source", map[string]project.Part{"a": {Plugin: "dump", Source: "https://example.com/a.tar.gz"}}, nil, ErrUnsupportedSource},
		{"dump without source", map[string]project.Part{"a": {Plugin: "dump"}}, nil, ErrUnsupportedSource},
		{"unknown part name", map[string]project.Part{"a": {Plugin: "nil"}}, []string{"b"}, ErrUnknownPart},
		{"cycle", map[string]project.Part{
			"a": {Plugin: "nil", After: []string{"b"}},
			"b": {Plugin: "nil", After: []string{"a"}},
		}, nil, ErrDependencyCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			work := t.TempDir()
			e := New(t.TempDir(), work, tt.parts)
			err := e.Run(context.Background(), StepPrime, tt.names, "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run error = %v, want %v", err, tt.wantErr)
			}
			if _, err := os.Stat(e.PartsDir()); !os.IsNotExist(err) {
				t.Fatal("work tree created before the parts were checked")
			}
		})
	}
}

func TestClean(t *testing.T) {
	e := New(t.TempDir(), t.TempDir(), map[string]project.Part{"a": {Plugin: "nil"}})
	ctx := context.Background()
	if err := e.Run(ctx, StepPrime, nil, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.Clean(ctx); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{e.PartsDir(), e.StageDir(), e.PrimeDir()} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("%s still exists", dir)
		}
	}
}

func TestOverlayRequiresBaseDirectory(t *testing.T) {
	e := New(t.TempDir(), t.TempDir(), map[string]project.Part{"a": {Plugin: "nil"}})
	err := e.Run(context.Background(), StepOverlay, nil, filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrStep) {
		t.Fatalf("Run error = %v, want %v", err, ErrStep)
	}
}
