package image

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/paths"
)

// Writes the image to dest as a single-file OCI archive.
//
// The archive holds an OCI layout whose index names the image by its tag.
// The file is written to a temporary name and renamed into place, so on
// failure nothing is left at dest and an existing file is kept.
func Export(ctx context.Context, img *Image, dest string) error {
	out, err := img.Materialize()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	dir, err := os.MkdirTemp("", "rockcraft-layout-")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	defer os.RemoveAll(dir)

	p, err := layout.Write(dir, empty.Index)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	err = p.AppendImage(out, layout.WithAnnotations(map[string]string{
		ocispec.AnnotationRefName: img.Tag(),
	}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	var written int64
	err = writeFileAtomic(dest, paths.DefaultFileMode, func(w io.Writer) error {
		cw := &countingWriter{w: w}
		err := writeTar(cw, dir, "")
		written = cw.n
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	emit.FromContext(ctx).Message("exported image", "path", dest, "size", humanize.Bytes(uint64(written)))
	return nil
}

// Counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
