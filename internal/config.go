package internal

import (
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

const (

	// Environment variable set inside an isolated instance. When true the
	// tool runs its steps directly instead of delegating to a provider.
	ManagedModeEnv = "ROCKCRAFT_MANAGED_MODE"

	// Environment variable that makes unhandled internal errors panic.
	DebugEnv = "CRAFT_DEBUG"

	// Environment variable overriding the containerd socket address.
	ContainerdAddressEnv = "ROCKCRAFT_CONTAINERD_ADDRESS"

	// Default containerd socket address.
	defaultContainerdAddress = "/run/containerd/containerd.sock"
)

var (
	debugMode atomic.Bool // Set from linker flags. CRAFT_DEBUG is read on demand.

	// Level shared by every handler installed by the entry point. The CLI
	// adjusts it after flags are parsed.
	LogLevel = new(slog.LevelVar)
)

// Parses the linker flags into usable runtime variables.
func init() {
	if v, err := strconv.ParseBool(rawDebug); err == nil {
		debugMode.Store(v)
	}
}

// Returns true when running inside an isolated instance.
func IsManaged() bool {
	return envBool(ManagedModeEnv)
}

// Returns true if internal errors should panic instead of exiting with 70.
func IsDebug() bool {
	return debugMode.Load() || envBool(DebugEnv)
}

// Returns the containerd socket address used by the provider.
func ContainerdAddress() string {
	if addr := os.Getenv(ContainerdAddressEnv); addr != "" {
		return addr
	}
	return defaultContainerdAddress
}

// Reports whether the named variable holds a true boolean value.
func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}
