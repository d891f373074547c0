// Package pebble models the service supervisor embedded in every image.
//
// Images always start the supervisor as their entrypoint. Services and
// health checks declared in the project are written into a numbered layer
// file under [LayersDir], which the supervisor reads at startup.
package pebble
