package project

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/cruciblehq/rockcraft/internal/pebble"
)

var (

	// Lowercase alphanumerics separated by single hyphens.
	nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	// Up to 32 characters, starting and ending with an alphanumeric (or +~).
	versionRe = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9:.+~-]{0,30}[a-zA-Z0-9+~])?$`)
)

// Architectures an image can be packed for.
var SupportedArches = []string{"amd64", "arm", "arm64", "i386", "ppc64le", "riscv64", "s390x"}

// Checks the manifest and returns an [ErrConfiguration] listing every
// problem found.
func (p *Project) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !nameRe.MatchString(p.Name) {
		add("name %q must be lowercase alphanumerics separated by single hyphens", p.Name)
	}
	if !versionRe.MatchString(p.Version) {
		add("version %q is not a valid version string", p.Version)
	}

	if p.Base == "" {
		add("base is required")
	} else if p.Base != BareBase {
		if _, err := name.ParseReference(NormalizeBase(p.Base)); err != nil {
			add("base %q is not a valid image reference", p.Base)
		}
	}
	if p.BuildBase != "" {
		if _, err := name.ParseReference(NormalizeBase(p.BuildBase)); err != nil {
			add("build-base %q is not a valid image reference", p.BuildBase)
		}
	}

	for _, label := range sortedLabels(p.Platforms) {
		for _, msg := range validatePlatform(label, p.Platforms[label]) {
			add("platforms.%s: %s", label, msg)
		}
	}

	for _, partName := range sortedLabels(p.Parts) {
		for _, dep := range p.Parts[partName].After {
			if _, ok := p.Parts[dep]; !ok {
				add("parts.%s: after references unknown part %q", partName, dep)
			}
		}
	}

	if p.RunUser != "" {
		if _, ok := UID(p.RunUser); !ok {
			add("run-user %q is not one of %v", p.RunUser, GlobalUsernames())
		}
	}

	problems = append(problems, pebble.Validate(p.Services, p.Checks)...)

	if len(problems) > 0 {
		return fmt.Errorf("%w: bad %s content:\n- %s", ErrConfiguration, Filename, strings.Join(problems, "\n- "))
	}
	return nil
}

// Returns the problems with a single platform entry.
func validatePlatform(label string, pl *Platform) []string {
	if pl == nil {
		pl = &Platform{}
	}

	var problems []string
	if len(pl.BuildFor) > 1 {
		problems = append(problems, fmt.Sprintf("building for %v is not supported, specify only one build-for value", []string(pl.BuildFor)))
	}
	if len(pl.BuildFor) > 0 && len(pl.BuildOn) == 0 {
		problems = append(problems, "build-for expects build-on to also be provided")
	}

	target := label
	if len(pl.BuildFor) > 0 {
		target = pl.BuildFor[0]
		if slices.Contains(SupportedArches, label) && label != target {
			problems = append(problems, fmt.Sprintf("entry name is an architecture and does not match build-for (%s != %s)", label, target))
		}
	}
	if !slices.Contains(SupportedArches, target) {
		problems = append(problems, fmt.Sprintf("target architecture %q is not supported, supported architectures: %v", target, SupportedArches))
	}
	for _, on := range pl.BuildOn {
		if !slices.Contains(SupportedArches, on) {
			problems = append(problems, fmt.Sprintf("build-on architecture %q is not supported", on))
		}
	}
	return problems
}

// Returns the keys of a map in sorted order.
func sortedLabels[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
