package project

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/rockcraft/internal/pebble"
)

const (

	// Default manifest file name.
	Filename = "rockcraft.yaml"

	// Base value that selects an empty scratch image.
	BareBase = "bare"
)

// The project manifest.
//
// A Project is read once and never mutated after [Load] returns.
type Project struct {
	Name                string                    `yaml:"name"`
	Title               string                    `yaml:"title"`
	Version             string                    `yaml:"version"`
	Summary             string                    `yaml:"summary"`
	Description         string                    `yaml:"description"`
	License             string                    `yaml:"license"`
	Base                string                    `yaml:"base"`
	BuildBase           string                    `yaml:"build-base"`
	Platforms           map[string]*Platform      `yaml:"platforms"`
	Parts               map[string]Part           `yaml:"parts"`
	Entrypoint          []string                  `yaml:"entrypoint"`
	Cmd                 []string                  `yaml:"cmd"`
	Environment         Environment               `yaml:"environment"`
	Env                 Environment               `yaml:"env"`
	RunUser             string                    `yaml:"run-user"`
	Services            map[string]pebble.Service `yaml:"services"`
	Checks              map[string]pebble.Check   `yaml:"checks"`
	PackageRepositories []map[string]any          `yaml:"package-repositories"`
}

// A platform entry. When BuildFor is empty the entry name is the target
// architecture.
type Platform struct {
	BuildOn         Arches `yaml:"build-on"`
	BuildFor        Arches `yaml:"build-for"`
	BuildForVariant string `yaml:"build-for-variant"`
}

// A part handed to the part-build engine. Keys the engine does not know
// about are kept in Extra.
type Part struct {
	Plugin string         `yaml:"plugin"`
	Source string         `yaml:"source"`
	After  []string       `yaml:"after"`
	Extra  map[string]any `yaml:",inline"`
}

// A list of architectures that also accepts a single scalar.
type Arches []string

// Decodes either a scalar or a sequence of scalars.
func (a *Arches) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*a = Arches{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*a = list
	return nil
}

// Reads and validates the manifest at path.
//
// Defaults are applied before validation: title falls back to the name and
// build-base falls back to base.
func Load(path string) (*Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	defer f.Close()

	var p Project
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: bad %s content: %w", ErrConfiguration, Filename, err)
	}

	p.applyDefaults()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// Fills in derived fields.
func (p *Project) applyDefaults() {
	if p.Title == "" {
		p.Title = p.Name
	}
	if p.BuildBase == "" && p.Base != BareBase {
		p.BuildBase = p.Base
	}
}

// Returns the environment in declaration order, with ${CRAFT_PROJECT_NAME}
// and ${CRAFT_PROJECT_VERSION} expanded in values.
//
// Entries from the legacy env list come first, followed by the environment
// mapping. Duplicate keys are kept; callers resolve them.
func (p *Project) Environ() []string {
	r := strings.NewReplacer(
		"${CRAFT_PROJECT_NAME}", p.Name,
		"${CRAFT_PROJECT_VERSION}", p.Version,
	)

	all := append(append(Environment{}, p.Env...), p.Environment...)
	env := make([]string, 0, len(all))
	for _, v := range all {
		env = append(env, v.Name+"="+r.Replace(v.Value))
	}
	return env
}

// Returns the base reference with the "name@tag" channel form rewritten to
// "name:tag".
func NormalizeBase(base string) string {
	if name, tag, ok := strings.Cut(base, "@"); ok && !strings.Contains(tag, ":") {
		return name + ":" + tag
	}
	return base
}
