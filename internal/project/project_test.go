package project

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const bareManifest = `
name: bare-base-test
version: latest
license: Apache-2.0
summary: A tiny image
description: Nothing but a hello part.
build-base: ubuntu:22.04
base: bare
services:
  hello:
    override: replace
    command: /usr/bin/hello -t
    startup: enabled
platforms:
  amd64:
parts:
  hello:
    plugin: nil
`

// Writes content to a rockcraft.yaml in a fresh directory and returns its path.
func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), Filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writeManifest(t, bareManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Name != "bare-base-test" {
		t.Fatalf("Name = %q, want bare-base-test", p.Name)
	}
	if p.Title != "bare-base-test" {
		t.Fatalf("Title = %q, want name as default", p.Title)
	}
	if p.Parts["hello"].Plugin != "nil" {
		t.Fatalf("plugin = %q, want nil", p.Parts["hello"].Plugin)
	}
	if _, ok := p.Platforms["amd64"]; !ok {
		t.Fatal("amd64 platform missing")
	}
	if p.Services["hello"].Command != "/usr/bin/hello -t" {
		t.Fatalf("service command = %q", p.Services["hello"].Command)
	}
}

func TestLoadBuildBaseDefaultsToBase(t *testing.T) {
	p, err := Load(writeManifest(t, `
name: app
version: "1.0"
base: ubuntu@22.04
platforms: {amd64: {}}
parts: {}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.BuildBase != "ubuntu@22.04" {
		t.Fatalf("BuildBase = %q, want ubuntu@22.04", p.BuildBase)
	}
	if NormalizeBase(p.BuildBase) != "ubuntu:22.04" {
		t.Fatalf("NormalizeBase = %q", NormalizeBase(p.BuildBase))
	}
}

func TestLoadBareWithoutBuildBase(t *testing.T) {
	p, err := Load(writeManifest(t, `
name: bare-base-test
version: latest
base: bare
platforms: {amd64: {}}
parts: {hello: {plugin: nil}}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.BuildBase != "" {
		t.Fatalf("BuildBase = %q, want empty", p.BuildBase)
	}
}

func TestEnvironOrder(t *testing.T) {
	p, err := Load(writeManifest(t, `
name: app
version: "2.1"
base: ubuntu:22.04
platforms: {amd64: {}}
env:
  - LEGACY: one
  - B: first
environment:
  B: second
  A: ${CRAFT_PROJECT_NAME}-${CRAFT_PROJECT_VERSION}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"LEGACY=one", "B=first", "B=second", "A=app-2.1"}
	if diff := cmp.Diff(want, p.Environ()); diff != "" {
		t.Fatalf("Environ mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{
			name:     "bad build-base",
			manifest: "name: a\nversion: '1'\nbase: bare\nbuild-base: Not Valid\n",
			want:     `build-base "Not Valid" is not a valid image reference`,
		},
		{
			name:     "bad name",
			manifest: "name: Bad_Name\nversion: '1'\nbase: ubuntu:22.04\n",
			want:     `name "Bad_Name"`,
		},
		{
			name:     "multiple build-for",
			manifest: "name: a\nversion: '1'\nbase: ubuntu:22.04\nplatforms:\n  x:\n    build-on: [amd64]\n    build-for: [amd64, arm64]\n",
			want:     "platforms.x: building for [amd64 arm64] is not supported",
		},
		{
			name:     "build-for without build-on",
			manifest: "name: a\nversion: '1'\nbase: ubuntu:22.04\nplatforms:\n  x:\n    build-for: amd64\n",
			want:     "platforms.x: build-for expects build-on to also be provided",
		},
		{
			name:     "label mismatch",
			manifest: "name: a\nversion: '1'\nbase: ubuntu:22.04\nplatforms:\n  amd64:\n    build-on: amd64\n    build-for: arm64\n",
			want:     "entry name is an architecture and does not match build-for (amd64 != arm64)",
		},
		{
			name:     "unsupported arch",
			manifest: "name: a\nversion: '1'\nbase: ubuntu:22.04\nplatforms: {mips: {}}\n",
			want:     `target architecture "mips" is not supported`,
		},
		{
			name:     "unknown run-user",
			manifest: "name: a\nversion: '1'\nbase: ubuntu:22.04\nrun-user: root\n",
			want:     `run-user "root" is not one of [_daemon_]`,
		},
		{
			name:     "invalid service",
			manifest: "name: a\nversion: '1'\nbase: ubuntu:22.04\nservices:\n  s:\n    override: replace\n",
			want:     "services.s: command is required",
		},
		{
			name:     "unknown field",
			manifest: "name: a\nversion: '1'\nbase: ubuntu:22.04\nflavour: sweet\n",
			want:     "field flavour not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tt.manifest))
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("error %v is not ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), Filename))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestUID(t *testing.T) {
	uid, ok := UID("_daemon_")
	if !ok || uid != 584792 {
		t.Fatalf("UID(_daemon_) = %d, %v", uid, ok)
	}
	if _, ok := UID("nobody"); ok {
		t.Fatal("UID(nobody) found")
	}
}
