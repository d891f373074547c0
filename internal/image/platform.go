package image

import (
	"fmt"

	"github.com/containerd/platforms"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Selects the image for the wanted platform from a registry descriptor.
//
// An index is searched for a matching manifest. A single manifest is accepted
// only when its config declares a matching platform.
func selectImage(desc *remote.Descriptor, want ocispec.Platform) (v1.Image, error) {
	matcher := platforms.OnlyStrict(want)

	if !desc.MediaType.IsIndex() {
		img, err := desc.Image()
		if err != nil {
			return nil, err
		}
		p, err := configPlatform(img)
		if err != nil {
			return nil, err
		}
		if !matcher.Match(p) {
			return nil, fmt.Errorf("%w: %s (image is %s)", ErrPlatformNotFound, platforms.Format(want), platforms.Format(p))
		}
		return img, nil
	}

	idx, err := desc.ImageIndex()
	if err != nil {
		return nil, err
	}
	return matchManifest(idx, matcher, want)
}

// Searches an index for a manifest matching the platform.
//
// Descriptors with an explicit platform are checked first. Descriptors
// without one are probed by reading the platform from their image config.
func matchManifest(idx v1.ImageIndex, matcher platforms.MatchComparer, want ocispec.Platform) (v1.Image, error) {
	im, err := idx.IndexManifest()
	if err != nil {
		return nil, err
	}

	for _, m := range im.Manifests {
		if m.Platform != nil && m.MediaType.IsImage() && matcher.Match(toOCI(*m.Platform)) {
			return idx.Image(m.Digest)
		}
	}

	for _, m := range im.Manifests {
		if m.Platform != nil || !m.MediaType.IsImage() {
			continue
		}
		img, err := idx.Image(m.Digest)
		if err != nil {
			continue
		}
		if p, err := configPlatform(img); err == nil && matcher.Match(p) {
			return img, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, platforms.Format(want))
}

// Returns the platform declared in an image config.
func configPlatform(img v1.Image) (ocispec.Platform, error) {
	cf, err := img.ConfigFile()
	if err != nil {
		return ocispec.Platform{}, err
	}
	return ocispec.Platform{
		OS:           cf.OS,
		Architecture: cf.Architecture,
		Variant:      cf.Variant,
	}, nil
}

// Converts a registry platform to its OCI form.
func toOCI(p v1.Platform) ocispec.Platform {
	return ocispec.Platform{
		OS:           p.OS,
		Architecture: p.Architecture,
		Variant:      p.Variant,
		OSVersion:    p.OSVersion,
		OSFeatures:   p.OSFeatures,
	}
}
