package lifecycle

import (
	"fmt"

	"github.com/cruciblehq/rockcraft/internal/parts"
)

// A lifecycle command.
type Step int

const (
	StepClean Step = iota
	StepPull
	StepOverlay
	StepBuild
	StepStage
	StepPrime
	StepPack
)

// Static description of a step.
type stepInfo struct {
	name string // Command name.
	help string // One-line help text.
}

var stepTable = [...]stepInfo{
	StepClean:   {"clean", "Remove a part's assets."},
	StepPull:    {"pull", "Download or retrieve artifacts defined for a part."},
	StepOverlay: {"overlay", "Prepare the base filesystem view of each part."},
	StepBuild:   {"build", "Build artifacts defined for a part."},
	StepStage:   {"stage", "Stage built artifacts into a common staging area."},
	StepPrime:   {"prime", "Prime artifacts defined for a part."},
	StepPack:    {"pack", "Create the ROCK."},
}

// Returns the command name.
func (s Step) String() string {
	if !s.valid() {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepTable[s].name
}

// Returns the one-line help text.
func (s Step) Help() string {
	if !s.valid() {
		return ""
	}
	return stepTable[s].help
}

// Returns the step with the given command name.
func ParseStep(name string) (Step, error) {
	for i, info := range stepTable {
		if info.name == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown step %q", ErrUnsupportedOperation, name)
}

func (s Step) valid() bool {
	return s >= StepClean && s <= StepPack
}

// Returns the part step that completes s. Pack requires prime.
func (s Step) partStep() parts.Step {
	switch s {
	case StepPull:
		return parts.StepPull
	case StepOverlay:
		return parts.StepOverlay
	case StepBuild:
		return parts.StepBuild
	case StepStage:
		return parts.StepStage
	default:
		return parts.StepPrime
	}
}
