package metadata

import (
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/rockcraft/internal/project"
)

// Path of the control data file inside the image.
const ControlFile = ".rock/metadata.yaml"

// Formats a creation time the way it appears in annotations and control data.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Returns the OCI annotations and the control metadata for an image.
//
// created should be captured immediately before export. The base digest is
// recorded as its hex encoding.
func Generate(p *project.Project, created time.Time, baseDigest digest.Digest) (map[string]string, map[string]any) {
	ts := Timestamp(created)
	hex := baseDigest.Encoded()

	annotations := map[string]string{
		ocispec.AnnotationVersion:         p.Version,
		ocispec.AnnotationTitle:           p.Title,
		ocispec.AnnotationRefName:         p.Name,
		ocispec.AnnotationLicenses:        p.License,
		ocispec.AnnotationCreated:         ts,
		ocispec.AnnotationBaseImageDigest: hex,
		ocispec.AnnotationBaseImageName:   p.Base,
	}

	control := map[string]any{
		"name":        p.Name,
		"summary":     p.Summary,
		"title":       p.Title,
		"version":     p.Version,
		"created":     ts,
		"base":        p.Base,
		"base-digest": hex,
	}

	return annotations, control
}

// Records the target architecture in control metadata, replacing any value
// already present. The variant is recorded only when set.
func SetArchitecture(control map[string]any, arch, variant string) {
	control["architecture"] = arch
	delete(control, "variant")
	if variant != "" {
		control["variant"] = variant
	}
}
