// Package metadata computes image annotations and control data.
//
// Annotations use the standard OCI keys. Control data is a small map that is
// embedded in the image as [ControlFile] so the image describes itself
// without its manifest.
package metadata
