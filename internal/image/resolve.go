package image

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/containerd/containerd/v2/pkg/archive"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/match"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/paths"
	"github.com/cruciblehq/rockcraft/internal/project"
)

const (

	// Tag of the synthesized scratch image.
	bareTag = "bare:latest"

	// Suffix of the per-project working copy tag.
	workingTagSuffix = "rockcraft-base"

	// Retries for transient registry failures.
	fetchRetries = 3
)

// Resolves base images into working copies and extracted root filesystems.
//
// Resolved images are cached as OCI layouts under CacheDir; root filesystems
// are extracted under BundleDir. Both directories are shared across platforms
// of one invocation, so a Resolver must not be used concurrently.
type Resolver struct {
	CacheDir  string          // OCI layout cache, one layout per repository.
	BundleDir string          // Root for extracted filesystems.
	Options   []remote.Option // Extra registry options (transport, auth).
	Backoff   time.Duration   // Initial retry interval; zero uses the library default.
}

// Creates a resolver rooted at workDir.
func NewResolver(workDir string) *Resolver {
	return &Resolver{
		CacheDir:  filepath.Join(workDir, "images"),
		BundleDir: filepath.Join(workDir, "bundles"),
	}
}

// Resolves base for the given architecture and variant.
//
// "bare" synthesizes an empty OCI image; any other value is fetched from its
// registry. The resolved image is cached under its own tag, and a working
// copy tagged "{projectName}:rockcraft-base" is written next to it. The
// composed filesystem is extracted into a fresh directory, whose path is
// returned alongside the image.
func (r *Resolver) Resolve(ctx context.Context, projectName, base, arch, variant string) (*Image, string, error) {
	src, repo, tag, err := r.source(ctx, base, arch, variant)
	if err != nil {
		return nil, "", err
	}

	h, err := src.Digest()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}
	baseDigest, err := digest.Parse(h.String())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}

	cached, err := r.cache(repo, tag, src)
	if err != nil {
		return nil, "", err
	}

	working, err := ociCopy(cached)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}
	workingTag := projectName + ":" + workingTagSuffix
	if working, err = r.cache(projectName, workingTag, working); err != nil {
		return nil, "", err
	}

	bundle := filepath.Join(r.BundleDir, repo+"-"+arch)
	rootfs, err := extract(ctx, working, filepath.Join(bundle, "rootfs"))
	if err != nil {
		return nil, "", err
	}

	emit.FromContext(ctx).Progress("resolved base image", "base", base, "arch", arch, "digest", baseDigest.String())

	img, err := newImage(workingTag, working, baseDigest, filepath.Join(bundle, "layers"))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}
	return img, rootfs, nil
}

// Removes the image cache and every extracted filesystem.
func (r *Resolver) Clean() error {
	for _, dir := range []string{r.CacheDir, r.BundleDir} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}

// Returns the source image together with the cache repository and tag.
func (r *Resolver) source(ctx context.Context, base, arch, variant string) (v1.Image, string, string, error) {
	if base == project.BareBase {
		img, err := bareImage(arch, variant)
		if err != nil {
			return nil, "", "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
		}
		return img, project.BareBase, bareTag, nil
	}

	ref, err := name.ParseReference(project.NormalizeBase(base))
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}

	emit.FromContext(ctx).Progress("fetching base image", "ref", ref.Name(), "arch", arch)

	img, err := r.fetch(ctx, ref, arch, variant)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %s: %w", ErrBaseImageFetch, base, err)
	}

	repo := ref.Context().RepositoryStr()
	repo = repo[strings.LastIndex(repo, "/")+1:]
	return img, repo, ref.Name(), nil
}

// Synthesizes a zero-layer OCI image for the platform.
func bareImage(arch, variant string) (v1.Image, error) {
	img := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, types.OCIConfigJSON)
	return mutate.ConfigFile(img, &v1.ConfigFile{
		OS:           "linux",
		Architecture: arch,
		Variant:      variant,
		RootFS:       v1.RootFS{Type: "layers"},
	})
}

// Fetches the image for linux/arch/variant, retrying transient failures.
func (r *Resolver) fetch(ctx context.Context, ref name.Reference, arch, variant string) (v1.Image, error) {
	want := ocispec.Platform{OS: "linux", Architecture: arch, Variant: variant}

	opts := append([]remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	}, r.Options...)

	var img v1.Image
	op := func() error {
		desc, err := remote.Get(ref, opts...)
		if err != nil {
			return classify(err)
		}
		img, err = selectImage(desc, want)
		if errors.Is(err, ErrPlatformNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	if r.Backoff > 0 {
		b.InitialInterval = r.Backoff
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, fetchRetries), ctx)); err != nil {
		return nil, err
	}
	return img, nil
}

// Marks registry errors that retrying cannot fix as permanent.
func classify(err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode < http.StatusInternalServerError && terr.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// Writes img into the layout cache at CacheDir/repo, replacing any image
// previously stored under the same tag. Returns the cached copy, which reads
// its blobs from disk.
func (r *Resolver) cache(repo, tag string, img v1.Image) (v1.Image, error) {
	p, err := openLayout(filepath.Join(r.CacheDir, repo))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}
	err = p.ReplaceImage(img, match.Name(tag), layout.WithAnnotations(map[string]string{
		ocispec.AnnotationRefName: tag,
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}

	h, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}
	cached, err := p.Image(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}
	return cached, nil
}

// Opens the OCI layout at dir, creating an empty one if needed.
func openLayout(dir string) (layout.Path, error) {
	if p, err := layout.FromPath(dir); err == nil {
		return p, nil
	}
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", err
	}
	return layout.Write(dir, empty.Index)
}

// Returns a copy of img that uses OCI media types throughout.
//
// Layers are shared with the source; only the manifest and config are
// rewritten when the source uses Docker media types.
func ociCopy(img v1.Image) (v1.Image, error) {
	mt, err := img.MediaType()
	if err != nil {
		return nil, err
	}
	if mt == types.OCIManifestSchema1 {
		return img, nil
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	out := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	out = mutate.ConfigMediaType(out, types.OCIConfigJSON)

	adds := make([]mutate.Addendum, 0, len(layers))
	for _, l := range layers {
		adds = append(adds, mutate.Addendum{Layer: l, MediaType: types.OCILayer})
	}
	if out, err = mutate.Append(out, adds...); err != nil {
		return nil, err
	}

	return mutate.ConfigFile(out, cf.DeepCopy())
}

// Extracts the composed filesystem of img into a fresh rootfs directory.
func extract(ctx context.Context, img v1.Image, rootfs string) (string, error) {
	if err := os.RemoveAll(rootfs); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}
	if err := os.MkdirAll(rootfs, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBaseImageFetch, err)
	}

	rc := mutate.Extract(img)
	defer rc.Close()

	if _, err := archive.Apply(ctx, rootfs, rc, archive.WithNoSameOwner()); err != nil {
		return "", fmt.Errorf("%w: extract: %w", ErrBaseImageFetch, err)
	}

	return rootfs, nil
}
