package image

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/metadata"
	"github.com/cruciblehq/rockcraft/internal/paths"
)

// Kind of layer added on top of the base. Each kind appears at most once.
type layerKind int

const (
	layerUser layerKind = iota
	layerPrime
	layerSupervisor
	layerMetadata
)

// Returns the history entry recorded for a layer kind.
func (k layerKind) createdBy() string {
	switch k {
	case layerUser:
		return "rockcraft: add run-user"
	case layerPrime:
		return "rockcraft: add prime"
	case layerSupervisor:
		return "rockcraft: add service supervisor layer"
	default:
		return "rockcraft: add metadata"
	}
}

// An image under construction.
//
// An Image starts as a working copy of a base image and collects layers and
// configuration changes in memory. Nothing is written until [Export]. Each
// mutating method replaces its own previous result, so re-applying a step is
// safe. An Image is owned by one pack run and must not be used concurrently.
type Image struct {
	name           string                 // Working tag, "{project}:rockcraft-base".
	tag            string                 // Tag used for the exported image.
	base           v1.Image               // Working copy of the base image.
	baseDigest     digest.Digest          // Digest of the base as resolved, before any change.
	workDir        string                 // Scratch directory for layer contents and tarballs.
	config         *v1.ConfigFile         // Configuration written on export.
	layers         map[layerKind]v1.Layer // Layers added on top of the base.
	userAfterPrime bool                   // Whether the user layer must follow the prime layer.
	annotations    map[string]string      // Manifest annotations.
}

// Wraps a base image. The configuration starts as a copy of the base's.
func newImage(name string, base v1.Image, baseDigest digest.Digest, workDir string) (*Image, error) {
	cf, err := base.ConfigFile()
	if err != nil {
		return nil, err
	}
	return &Image{
		name:       name,
		base:       base,
		baseDigest: baseDigest,
		workDir:    workDir,
		config:     cf.DeepCopy(),
		layers:     make(map[layerKind]v1.Layer),
	}, nil
}

// Returns the working tag of the image.
func (i *Image) Name() string {
	return i.name
}

// Returns the tag set by [Image.AddLayer].
func (i *Image) Tag() string {
	return i.tag
}

// Returns the digest of the base image before any layer was added.
func (i *Image) BaseDigest() digest.Digest {
	return i.baseDigest
}

// Returns the default user, or an empty string for root.
func (i *Image) User() string {
	return i.config.Config.User
}

// Adds the prime directory as a layer and sets the export tag.
//
// The layer content is exactly the tree under primeDir. baseLayerDir is the
// extracted base filesystem, used to keep base directory symlinks intact.
// Identical trees produce identical layer digests.
func (i *Image) AddLayer(ctx context.Context, tag, primeDir, baseLayerDir string) error {
	layer, err := i.buildLayer(primeDir, baseLayerDir, "prime.tar")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLayer, err)
	}

	i.tag = tag
	i.layers[layerPrime] = layer

	d, err := layer.Digest()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLayer, err)
	}
	size, err := layer.Size()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLayer, err)
	}
	emit.FromContext(ctx).Progress("added prime layer", "digest", d.String(), "size", humanize.Bytes(uint64(size)))

	return nil
}

// Adds the control metadata layer and applies annotations and the creation
// time. Annotations are also set as config labels.
func (i *Image) SetMetadata(annotations map[string]string, control map[string]any, created time.Time) error {
	b, err := yaml.Marshal(control)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigure, err)
	}

	dir, err := i.scratch("metadata")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigure, err)
	}
	file := filepath.Join(dir, filepath.FromSlash(metadata.ControlFile))
	if err := os.MkdirAll(filepath.Dir(file), paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigure, err)
	}
	if err := os.WriteFile(file, b, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigure, err)
	}

	layer, err := i.buildLayer(dir, "", "metadata.tar")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLayer, err)
	}
	i.layers[layerMetadata] = layer

	i.annotations = maps.Clone(annotations)
	if i.config.Config.Labels == nil {
		i.config.Config.Labels = make(map[string]string, len(annotations))
	}
	maps.Copy(i.config.Config.Labels, annotations)
	i.config.Created = v1.Time{Time: created.UTC()}

	return nil
}

// Produces the final image: base, added layers in order, then configuration
// and annotations.
func (i *Image) Materialize() (v1.Image, error) {
	var adds []mutate.Addendum
	for _, k := range i.layerOrder() {
		l, ok := i.layers[k]
		if !ok {
			continue
		}
		adds = append(adds, mutate.Addendum{
			Layer:     l,
			MediaType: types.OCILayer,
			History:   v1.History{CreatedBy: k.createdBy()},
		})
	}

	img, err := mutate.Append(i.base, adds...)
	if err != nil {
		return nil, err
	}

	cf, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cf = cf.DeepCopy()
	edits := i.config.DeepCopy()
	cf.Config = edits.Config
	cf.Created = edits.Created
	cf.OS = edits.OS
	cf.Architecture = edits.Architecture
	cf.Variant = edits.Variant

	img, err = mutate.ConfigFile(img, cf)
	if err != nil {
		return nil, err
	}

	if len(i.annotations) > 0 {
		img = mutate.Annotations(img, i.annotations).(v1.Image)
	}

	return img, nil
}

// Returns the order of added layers. The user layer precedes the prime layer
// unless the prime tree ships its own user database.
func (i *Image) layerOrder() []layerKind {
	if i.userAfterPrime {
		return []layerKind{layerPrime, layerUser, layerSupervisor, layerMetadata}
	}
	return []layerKind{layerUser, layerPrime, layerSupervisor, layerMetadata}
}

// Writes a deterministic tarball of dir into the work directory and returns
// it as a gzip-compressed OCI layer.
func (i *Image) buildLayer(dir, baseLayerDir, file string) (v1.Layer, error) {
	if err := os.MkdirAll(i.workDir, paths.DefaultDirMode); err != nil {
		return nil, err
	}
	file = filepath.Join(i.workDir, file)

	f, err := os.Create(file)
	if err != nil {
		return nil, err
	}
	if err := writeTar(f, dir, baseLayerDir); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(file)
	}, tarball.WithMediaType(types.OCILayer), tarball.WithCompressedCaching)
}

// Returns an empty scratch directory for building a layer tree.
func (i *Image) scratch(name string) (string, error) {
	dir := filepath.Join(i.workDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", err
	}
	return dir, nil
}
