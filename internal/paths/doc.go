// Provides platform-appropriate paths for rockcraft.
//
// Host paths follow XDG conventions on Linux and platform-native conventions
// on macOS. Paths used inside an isolated instance are fixed constants since
// the instance layout is controlled by the provider.
package paths
