// Package provider runs the tool inside isolated containerd instances.
//
// A [Gateway] connects to containerd and keeps one instance per project,
// named "rockcraft-{project}-{inode}" from the project name and the inode of
// the project directory. The instance is created from the build-base image
// with the project directory mounted at /root/project and the running
// executable at /usr/local/bin/rockcraft, and kept alive by a long-running
// task. [Gateway.Execute] re-runs the same command line inside it in managed
// mode, streams its output, copies /tmp/rockcraft.log back to the host log
// directory, and stops the task. [Gateway.Clean] deletes the instance.
//
// Example usage:
//
//	gw := provider.New("/run/containerd/containerd.sock")
//	if err := gw.Execute(ctx, "hello", dir, "ubuntu@22.04", []string{"pack"}); err != nil {
//	    return err
//	}
package provider
