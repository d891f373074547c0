package provider

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cruciblehq/rockcraft/internal/paths"
)

// Standard streams attached to a command.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Runs args inside the instance and returns the exit status.
//
// The process inherits the instance's spec; env entries replace variables
// of the same name and cwd, when set, replaces the working directory. A
// non-zero status is not an error.
func (i *instance) exec(ctx context.Context, s streams, env []string, cwd string, args ...string) (int, error) {
	pspec, err := i.processSpec(ctx, env, cwd, args)
	if err != nil {
		return 0, err
	}

	task, err := i.task(ctx)
	if err != nil {
		return 0, err
	}

	if s.stdout == nil {
		s.stdout = io.Discard
	}
	if s.stderr == nil {
		s.stderr = io.Discard
	}

	var stdinEOF <-chan struct{}
	if s.stdin != nil {
		w := newEOFWatcher(s.stdin)
		s.stdin = w
		stdinEOF = w.eof
	}

	process, err := task.Exec(ctx, "exec-"+uuid.NewString(), pspec, cio.NewCreator(
		cio.WithStreams(s.stdin, s.stdout, s.stderr),
	))
	if err != nil {
		return 0, err
	}

	return wait(ctx, process, stdinEOF)
}

// Returns the process spec for args, derived from the container spec.
func (i *instance) processSpec(ctx context.Context, env []string, cwd string, args []string) (*specs.Process, error) {
	ctr, err := i.client.LoadContainer(ctx, i.id)
	if err != nil {
		return nil, err
	}
	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args
	pspec.Env = mergeEnv(pspec.Env, env)
	if cwd != "" {
		pspec.Cwd = cwd
	}
	return &pspec, nil
}

// Starts process, waits for it to exit and deletes it.
//
// When stdinEOF fires the process stdin is closed; the shim holds both ends
// of the stdin FIFO and would not propagate EOF otherwise.
func wait(ctx context.Context, process containerd.Process, stdinEOF <-chan struct{}) (int, error) {
	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(ctx)
		return 0, err
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(ctx)
		return 0, err
	}

	if stdinEOF != nil {
		go func() {
			<-stdinEOF
			process.CloseIO(ctx, containerd.WithStdinCloser)
		}()
	}

	status := <-statusC
	process.Delete(ctx)

	code, _, err := status.Result()
	if err != nil {
		return 0, err
	}
	return int(code), nil
}

// Applies overrides on top of base. Variables keep their position in base;
// new ones are appended in override order. Entries without "=" are dropped.
func mergeEnv(base, overrides []string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	pos := make(map[string]int, len(base)+len(overrides))
	for _, list := range [][]string{base, overrides} {
		for _, entry := range list {
			k, _, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			if p, seen := pos[k]; seen {
				out[p] = entry
				continue
			}
			pos[k] = len(out)
			out = append(out, entry)
		}
	}
	return out
}

// Streams path out of the instance as a tar archive.
func (i *instance) copyFrom(ctx context.Context, w io.Writer, path string) error {
	var stderr bytes.Buffer
	code, err := i.exec(ctx, streams{stdout: w, stderr: &stderr}, nil, "",
		"tar", "cf", "-", "-C", filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("tar exited with status %d: %s", code, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Copies the instance log file to dest on the host.
func (i *instance) captureLog(ctx context.Context, dest string) error {
	var archive bytes.Buffer
	if err := i.copyFrom(ctx, &archive, paths.ManagedLogFile); err != nil {
		return err
	}
	return extractFile(&archive, dest)
}

// Writes the first regular file of a tar stream to dest.
func extractFile(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return errors.New("archive holds no file")
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
			return err
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, paths.DefaultFileMode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

// Signals the first EOF returned by the wrapped reader.
type eofWatcher struct {
	r    io.Reader
	once sync.Once
	eof  chan struct{}
}

func newEOFWatcher(r io.Reader) *eofWatcher {
	return &eofWatcher{r: r, eof: make(chan struct{})}
}

func (w *eofWatcher) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if err == io.EOF {
		w.once.Do(func() { close(w.eof) })
	}
	return n, err
}
