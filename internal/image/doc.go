// Package image builds OCI images from a base and a prime tree.
//
// A [Resolver] turns a base reference into an [Image] and an extracted root
// filesystem. The "bare" base is synthesized as an empty image; any other
// base is fetched from its registry for the target platform. Every resolved
// image is cached in an OCI layout, along with a per-project working copy.
//
// The [Image] collects changes in memory. [Image.AddLayer] adds the prime
// tree as a deterministic layer, [Image.Configure] applies the run-user,
// the service supervisor entrypoint and layer, and the environment, and
// [Image.SetMetadata] adds control data and annotations. [Export] writes
// the result as a single OCI archive with an atomic rename.
//
// Example usage:
//
//	r := image.NewResolver(workDir)
//	img, rootfs, err := r.Resolve(ctx, "hello", "bare", "amd64", "")
//	if err != nil {
//	    return err
//	}
//
//	if err := img.AddLayer(ctx, "1.0", primeDir, rootfs); err != nil {
//	    return err
//	}
//	if err := img.Configure(ctx, image.Settings{Name: "hello", PrimeDir: primeDir, BaseLayerDir: rootfs}); err != nil {
//	    return err
//	}
//	if err := image.Export(ctx, img, "hello_1.0_amd64.rock"); err != nil {
//	    return err
//	}
package image
