// Package project loads and validates the rockcraft.yaml manifest.
//
// Only the fields needed to plan builds and assemble images are modeled.
// Part definitions are carried through to the part-build engine with their
// unknown keys preserved. Every validation problem in a manifest is reported
// at once, wrapped in [ErrConfiguration].
//
// Example usage:
//
//	p, err := project.Load("rockcraft.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(p.Name, p.Version)
package project
