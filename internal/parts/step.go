package parts

import "fmt"

// A part lifecycle step. Steps run in declaration order and each one
// requires the previous step to have completed.
type Step int

const (
	StepPull Step = iota
	StepOverlay
	StepBuild
	StepStage
	StepPrime
)

var stepNames = [...]string{"pull", "overlay", "build", "stage", "prime"}

// Returns the lowercase step name.
func (s Step) String() string {
	if s < StepPull || s > StepPrime {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Returns the step with the given name.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}

// Returns the steps up to and including s.
func (s Step) upTo() []Step {
	steps := make([]Step, 0, int(s)+1)
	for st := StepPull; st <= s; st++ {
		steps = append(steps, st)
	}
	return steps
}
