// Package parts runs the part lifecycle on the local filesystem.
//
// Parts run in dependency order through the pull, overlay, build, stage and
// prime steps. Only the nil and dump plugins are available, and sources must
// be local paths. The prime directory is the payload packed into the image.
//
// Example usage:
//
//	e := parts.New(projectDir, workDir, p.Parts)
//	if err := e.Run(ctx, parts.StepPrime, nil, rootfs); err != nil {
//	    return err
//	}
//	primeDir := e.PrimeDir()
package parts
