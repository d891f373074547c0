package internal

import (
	"runtime/debug"
	"strings"
)

// Name of the tool, used in messages, paths, and instance names.
const Name = "rockcraft"

// Set with -ldflags "-X github.com/cruciblehq/rockcraft/internal.<name>=...".
var (
	version   = "" // Release version (e.g., "1.5.0").
	gitCommit = "" // Source revision the binary was built from.

	rawDebug = "false" // Whether internal errors panic instead of mapping to an exit code.
)

// Returns the version line printed by "rockcraft version".
//
// Linker flags take precedence over the module build info, so a binary built
// with "go install" still reports its module version and VCS revision.
func VersionString() string {
	v, c := strings.TrimSpace(version), strings.TrimSpace(gitCommit)
	if info, ok := debug.ReadBuildInfo(); ok {
		if v == "" {
			v = info.Main.Version
		}
		if c == "" {
			c = buildSetting(info, "vcs.revision")
		}
	}
	return formatVersion(v, c)
}

// Formats "rockcraft <version> (<commit>)". Builds without a version report
// "devel"; the commit is shortened to 12 characters and omitted when unknown.
func formatVersion(v, commit string) string {
	v = strings.TrimPrefix(v, "v")
	if v == "" || v == "(devel)" {
		v = "devel"
	}
	if commit == "" {
		return Name + " " + v
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return Name + " " + v + " (" + commit + ")"
}

func buildSetting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
