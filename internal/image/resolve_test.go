package image

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// Starts an in-memory registry and returns its host.
func startRegistry(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

// Pushes a multi-platform index holding one random image per architecture.
func pushIndex(t *testing.T, ref string, arches ...string) map[string]v1.Image {
	t.Helper()
	tag, err := name.ParseReference(ref)
	if err != nil {
		t.Fatal(err)
	}

	images := make(map[string]v1.Image, len(arches))
	var idx v1.ImageIndex = empty.Index
	for _, arch := range arches {
		img, err := random.Image(256, 2)
		if err != nil {
			t.Fatal(err)
		}
		cf, err := img.ConfigFile()
		if err != nil {
			t.Fatal(err)
		}
		cf = cf.DeepCopy()
		cf.OS, cf.Architecture = "linux", arch
		if img, err = mutate.ConfigFile(img, cf); err != nil {
			t.Fatal(err)
		}
		images[arch] = img
		idx = mutate.AppendManifests(idx, mutate.IndexAddendum{
			Add: img,
			Descriptor: v1.Descriptor{
				Platform: &v1.Platform{OS: "linux", Architecture: arch},
			},
		})
	}

	if err := remote.WriteIndex(tag, idx); err != nil {
		t.Fatal(err)
	}
	return images
}

// Returns a resolver with a short retry interval.
func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r := NewResolver(t.TempDir())
	r.Backoff = time.Millisecond
	return r
}

func TestResolveBare(t *testing.T) {
	r := testResolver(t)
	img, rootfs, err := r.Resolve(context.Background(), "hello", "bare", "arm64", "v8")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if img.Name() != "hello:rockcraft-base" {
		t.Fatalf("Name = %q", img.Name())
	}
	if img.BaseDigest() == "" {
		t.Fatal("empty base digest")
	}
	if rootfs != filepath.Join(r.BundleDir, "bare-arm64", "rootfs") {
		t.Fatalf("rootfs = %q", rootfs)
	}
	entries, err := os.ReadDir(rootfs)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("bare rootfs has %d entries", len(entries))
	}

	out, err := img.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	mt, err := out.MediaType()
	if err != nil {
		t.Fatal(err)
	}
	if mt != types.OCIManifestSchema1 {
		t.Fatalf("media type = %s", mt)
	}
	cf, err := out.ConfigFile()
	if err != nil {
		t.Fatal(err)
	}
	if cf.Architecture != "arm64" || cf.Variant != "v8" {
		t.Fatalf("platform = %s/%s", cf.Architecture, cf.Variant)
	}

	for _, repo := range []string{"bare", "hello"} {
		if _, err := layout.FromPath(filepath.Join(r.CacheDir, repo)); err != nil {
			t.Fatalf("layout %s not cached: %v", repo, err)
		}
	}
}

func TestResolveBareDigestStable(t *testing.T) {
	a, _, err := testResolver(t).Resolve(context.Background(), "hello", "bare", "amd64", "")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := testResolver(t).Resolve(context.Background(), "other", "bare", "amd64", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.BaseDigest() != b.BaseDigest() {
		t.Fatalf("bare digests differ: %s != %s", a.BaseDigest(), b.BaseDigest())
	}
}

func TestResolveRegistry(t *testing.T) {
	host := startRegistry(t)
	ref := host + "/library/ubuntu:22.04"
	images := pushIndex(t, ref, "amd64", "arm64")

	r := testResolver(t)
	img, rootfs, err := r.Resolve(context.Background(), "hello", host+"/library/ubuntu@22.04", "arm64", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want, err := images["arm64"].Digest()
	if err != nil {
		t.Fatal(err)
	}
	if img.BaseDigest().String() != want.String() {
		t.Fatalf("BaseDigest = %s, want %s", img.BaseDigest(), want)
	}
	if rootfs != filepath.Join(r.BundleDir, "ubuntu-arm64", "rootfs") {
		t.Fatalf("rootfs = %q", rootfs)
	}
	entries, err := os.ReadDir(rootfs)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("rootfs is empty")
	}

	out, err := img.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	mt, err := out.MediaType()
	if err != nil {
		t.Fatal(err)
	}
	if mt != types.OCIManifestSchema1 {
		t.Fatalf("working copy media type = %s, want OCI", mt)
	}
	layers, err := out.Layers()
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(layers))
	}
}

func TestResolveErrors(t *testing.T) {
	host := startRegistry(t)
	pushIndex(t, host+"/library/ubuntu:22.04", "amd64")

	tests := []struct {
		name    string
		base    string
		arch    string
		wantErr error
	}{
		{"missing platform", host + "/library/ubuntu:22.04", "riscv64", ErrPlatformNotFound},
		{"missing tag", host + "/library/ubuntu:99.99", "amd64", ErrBaseImageFetch},
		{"malformed reference", "UPPER/Case:tag", "amd64", ErrBaseImageFetch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := testResolver(t).Resolve(context.Background(), "hello", tt.base, tt.arch, "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrBaseImageFetch) {
				t.Fatalf("Resolve error = %v, want it to wrap %v", err, ErrBaseImageFetch)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	if got := classify(base); got != base {
		t.Fatalf("classify changed a non-registry error: %v", got)
	}
}

func TestResolverClean(t *testing.T) {
	r := testResolver(t)
	if _, _, err := r.Resolve(context.Background(), "hello", "bare", "amd64", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	for _, dir := range []string{r.CacheDir, r.BundleDir} {
		if exists(dir) {
			t.Fatalf("%s still exists", dir)
		}
	}
}
