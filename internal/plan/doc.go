// Package plan turns the platform table into concrete build targets.
//
// Cross-building is not modeled: every target builds on its own target
// architecture. A declared build-on that differs is kept on the BuildInfo so
// callers can report it.
package plan
