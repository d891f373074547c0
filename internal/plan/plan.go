package plan

import (
	"slices"
	"sort"

	"github.com/cruciblehq/rockcraft/internal/project"
)

// A resolved build target. Each BuildInfo drives exactly one pack run.
type BuildInfo struct {
	Platform        string   // Platform entry name, used as the archive suffix.
	BuildOn         string   // Architecture the build runs on.
	BuildFor        string   // Architecture the image is packed for.
	Variant         string   // Architecture variant (e.g., "v8"), may be empty.
	DeclaredBuildOn []string // build-on as written in the manifest.
}

// Reports whether the manifest asked for a build-on that this plan does not
// honour.
func (b BuildInfo) IgnoresBuildOn() bool {
	return len(b.DeclaredBuildOn) > 0 && !slices.Contains(b.DeclaredBuildOn, b.BuildOn)
}

// Expands the platform table into build targets, sorted by entry name.
//
// build-for is the first explicit build-for value or the entry name. build-on
// always equals build-for. The variant defaults to v7 for arm and v8 for
// arm64. An empty table yields an empty plan.
func New(platforms map[string]*project.Platform) []BuildInfo {
	labels := make([]string, 0, len(platforms))
	for label := range platforms {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	infos := make([]BuildInfo, 0, len(labels))
	for _, label := range labels {
		pl := platforms[label]
		if pl == nil {
			pl = &project.Platform{}
		}

		target := label
		if len(pl.BuildFor) > 0 {
			target = pl.BuildFor[0]
		}

		infos = append(infos, BuildInfo{
			Platform:        label,
			BuildOn:         target,
			BuildFor:        target,
			Variant:         variant(target, pl.BuildForVariant),
			DeclaredBuildOn: pl.BuildOn,
		})
	}

	return infos
}

// Returns the declared variant or the default for the architecture.
func variant(arch, declared string) string {
	if declared != "" {
		return declared
	}
	switch arch {
	case "arm":
		return "v7"
	case "arm64":
		return "v8"
	}
	return ""
}
