// Package lifecycle dispatches lifecycle steps and packs images.
//
// An [Orchestrator] takes one [Step] and either forwards the whole invocation
// to an isolated instance through its [Gateway], or runs it in place. Running
// in place expands the manifest platforms into a build plan and handles each
// platform in turn: the base image is resolved, the part [Engine] runs up to
// the requested step, and for pack the prime directory is layered onto the
// base, configured, stamped with metadata and exported as
// "{name}_{version}_{platform}.rock".
//
// Clean requests naming parts, or made in destructive mode, are rejected with
// [ErrUnsupportedOperation] before anything is touched.
//
// Example usage:
//
//	o := &lifecycle.Orchestrator{
//	    Project:    p,
//	    ProjectDir: dir,
//	    Managed:    internal.IsManaged(),
//	    Engine:     parts.New(dir, workDir, p.Parts),
//	    Gateway:    provider.New(internal.ContainerdAddress()),
//	    Resolver:   image.NewResolver(workDir),
//	    Shell:      lifecycle.InteractiveShell,
//	}
//
//	archives, err := o.Run(ctx, lifecycle.Options{Step: lifecycle.StepPack, Destructive: true})
//	if err != nil {
//	    return err
//	}
package lifecycle
