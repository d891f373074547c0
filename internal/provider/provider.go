package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"

	"github.com/cruciblehq/rockcraft/internal"
	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/paths"
	"github.com/cruciblehq/rockcraft/internal/project"
)

const (

	// Containerd namespace holding instances and build-base images.
	namespace = "rockcraft"

	// Snapshotter used for instance filesystems.
	snapshotter = "overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Runs the tool inside containerd-backed instances.
//
// Each project gets one instance, named from the project name and the inode
// of the project directory, so repeated invocations reuse it. An instance is
// acquired for the duration of one invocation and released afterwards; the
// instance log is copied to the host on every exit path.
type Gateway struct {
	Address    string                 // Containerd socket address.
	Stdin      io.Reader              // Forwarded to the command; nil for none.
	Stdout     io.Writer              // Receives the command's standard output.
	Stderr     io.Writer              // Receives the command's standard error.
	Executable func() (string, error) // Returns the host path of the running executable.
	Now        func() time.Time       // Clock used to name captured logs.
}

// Creates a gateway talking to containerd at address, attached to the
// process's standard streams.
func New(address string) *Gateway {
	return &Gateway{
		Address:    address,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Executable: os.Executable,
		Now:        time.Now,
	}
}

// Runs "rockcraft args..." inside the project's instance in managed mode.
//
// The build-base image is pulled when missing. A non-zero exit status is
// returned as an [ExitError] wrapped in [ErrProviderExecution].
func (g *Gateway) Execute(ctx context.Context, projectName, projectDir, buildBase string, args []string) error {
	inst, release, err := g.acquire(ctx, projectName, projectDir, buildBase)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderExecution, err)
	}
	defer release()

	env := []string{internal.ManagedModeEnv + "=1"}
	if internal.IsDebug() {
		env = append(env, internal.DebugEnv+"=1")
	}

	cmd := append([]string{paths.ManagedExecutable}, args...)
	emit.FromContext(ctx).Debug("executing in instance", "instance", inst.id, "command", cmd)

	code, err := inst.exec(ctx, streams{stdin: g.Stdin, stdout: g.Stdout, stderr: g.Stderr}, env, paths.ManagedProjectDir, cmd...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderExecution, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: %w", ErrProviderExecution, &ExitError{Code: code})
	}
	return nil
}

// Deletes the project's instance and its snapshot. Cleaning a project that
// has no instance is not an error.
func (g *Gateway) Clean(ctx context.Context, projectName, projectDir string) error {
	name, err := InstanceName(projectName, projectDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderExecution, err)
	}

	client, err := g.connect()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderExecution, err)
	}
	defer client.Close()

	existed, err := (&instance{client: client, id: name}).destroy(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderExecution, err)
	}
	if existed {
		emit.FromContext(ctx).Progress("removed instance", "name", name)
	} else {
		emit.FromContext(ctx).Debug("no instance to remove", "name", name)
	}
	return nil
}

// Connects to containerd, prepares the instance and starts it.
//
// The returned release function captures the instance log, stops the task
// and closes the connection. It runs with a context detached from ctx so an
// interrupted invocation is still cleaned up.
func (g *Gateway) acquire(ctx context.Context, projectName, projectDir, buildBase string) (*instance, func(), error) {
	name, err := InstanceName(projectName, projectDir)
	if err != nil {
		return nil, nil, err
	}
	exe, err := g.Executable()
	if err != nil {
		return nil, nil, err
	}
	ref, err := buildBaseRef(buildBase)
	if err != nil {
		return nil, nil, err
	}

	client, err := g.connect()
	if err != nil {
		return nil, nil, err
	}

	image, err := pullImage(ctx, client, ref)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	inst := &instance{client: client, id: name}
	if err := inst.ensure(ctx, image, mounts{projectDir: projectDir, executable: exe}); err != nil {
		client.Close()
		return nil, nil, err
	}

	release := func() {
		ctx := context.WithoutCancel(ctx)
		log := emit.FromContext(ctx)

		dest := paths.LogFile(g.Now())
		if err := inst.captureLog(ctx, dest); err != nil {
			log.Debug("instance log not captured", "error", err)
		} else {
			log.Debug("captured instance log", "path", dest)
		}

		if err := inst.stop(ctx); err != nil {
			log.Warning("cannot stop instance", "name", inst.id, "error", err)
		}
		client.Close()
	}

	return inst, release, nil
}

// Opens a client scoped to the provider namespace.
func (g *Gateway) connect() (*containerd.Client, error) {
	return containerd.New(g.Address, containerd.WithDefaultNamespace(namespace))
}

// Returns the image for ref, pulling and unpacking it for the host platform
// when needed.
func pullImage(ctx context.Context, client *containerd.Client, ref string) (containerd.Image, error) {
	image, err := client.GetImage(ctx, ref)
	if err == nil {
		unpacked, err := image.IsUnpacked(ctx, snapshotter)
		if err != nil {
			return nil, err
		}
		if !unpacked {
			if err := image.Unpack(ctx, snapshotter); err != nil {
				return nil, err
			}
		}
		return image, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, err
	}

	emit.FromContext(ctx).Progress("pulling build base", "ref", ref)
	return client.Pull(ctx, ref,
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(snapshotter),
		containerd.WithPlatform(platforms.DefaultString()),
	)
}

// Returns the fully qualified reference of a build-base, with the "name@tag"
// form accepted and a missing tag defaulting to latest.
func buildBaseRef(buildBase string) (string, error) {
	named, err := reference.ParseNormalizedNamed(project.NormalizeBase(buildBase))
	if err != nil {
		return "", err
	}
	return reference.TagNameOnly(named).String(), nil
}

// Returns the instance name for a project: "rockcraft-{name}-{inode}".
func InstanceName(projectName, projectDir string) (string, error) {
	info, err := os.Stat(projectDir)
	if err != nil {
		return "", err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", errors.New("cannot read inode of " + filepath.Clean(projectDir))
	}
	return fmt.Sprintf("%s-%s-%d", internal.Name, projectName, st.Ino), nil
}
