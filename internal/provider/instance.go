package provider

import (
	"context"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cruciblehq/rockcraft/internal/emit"
	"github.com/cruciblehq/rockcraft/internal/paths"
)

// An isolated instance backed by a containerd container.
type instance struct {
	client *containerd.Client // Client scoped to the provider namespace.
	id     string             // Container ID, also the instance name.
}

// Host paths bind-mounted into an instance.
type mounts struct {
	projectDir string // Mounted read-write at [paths.ManagedProjectDir].
	executable string // Mounted read-only at [paths.ManagedExecutable].
}

// Returns the OCI mounts for m.
func (m mounts) spec() []specs.Mount {
	return []specs.Mount{
		{
			Destination: paths.ManagedProjectDir,
			Type:        "bind",
			Source:      m.projectDir,
			Options:     []string{"rbind", "rw"},
		},
		{
			Destination: paths.ManagedExecutable,
			Type:        "bind",
			Source:      m.executable,
			Options:     []string{"bind", "ro"},
		},
	}
}

// Loads the instance container, creating it from image when it does not
// exist, and makes sure its long-running task is started.
func (i *instance) ensure(ctx context.Context, image containerd.Image, m mounts) error {
	ctr, err := i.client.LoadContainer(ctx, i.id)
	if errdefs.IsNotFound(err) {
		emit.FromContext(ctx).Progress("creating instance", "name", i.id)
		ctr, err = i.create(ctx, image, m)
	}
	if err != nil {
		return err
	}

	task, err := ctr.Task(ctx, nil)
	if err == nil {
		status, err := task.Status(ctx)
		if err != nil {
			return err
		}
		if status.Status == containerd.Running {
			return nil
		}
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			return err
		}
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	return i.startTask(ctx, ctr)
}

// Creates the container with the project and executable mounted.
func (i *instance) create(ctx context.Context, image containerd.Image, m mounts) (containerd.Container, error) {
	return i.client.NewContainer(ctx, i.id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithNewSnapshot(i.id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(platforms.DefaultString()),
			oci.WithImageConfig(image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithMounts(m.spec()),
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
}

// Starts the container's long-running task with no attached IO.
func (i *instance) startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Returns the running task.
func (i *instance) task(ctx context.Context) (containerd.Task, error) {
	ctr, err := i.client.LoadContainer(ctx, i.id)
	if err != nil {
		return nil, err
	}
	return ctr.Task(ctx, nil)
}

// Stops the long-running task. The container and its snapshot are kept so
// the next invocation reuses them. Stopping a stopped instance is not an
// error.
func (i *instance) stop(ctx context.Context) error {
	task, err := i.task(ctx)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	task.Kill(ctx, syscall.SIGKILL)
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Removes the container and its snapshot. Reports whether anything existed.
func (i *instance) destroy(ctx context.Context) (bool, error) {
	ctr, err := i.client.LoadContainer(ctx, i.id)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return false, err
	}
	return true, nil
}
