package pebble

import (
	"fmt"
	"path"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (

	// Supervisor executable inside the image.
	Executable = "/bin/pebble"

	// Supervisor home directory, also used as the run-user home.
	HomeDir = "/var/lib/pebble/default"

	// Layers directory relative to the image root.
	LayersDir = "var/lib/pebble/default/layers"
)

// Returns the entrypoint that starts the supervisor.
func Entrypoint() []string {
	return []string{Executable, "enter", "--verbose"}
}

// A long-running process managed by the supervisor.
type Service struct {
	Override       string            `yaml:"override"`
	Command        string            `yaml:"command"`
	Summary        string            `yaml:"summary,omitempty"`
	Description    string            `yaml:"description,omitempty"`
	Startup        string            `yaml:"startup,omitempty"`
	After          []string          `yaml:"after,omitempty"`
	Before         []string          `yaml:"before,omitempty"`
	Requires       []string          `yaml:"requires,omitempty"`
	Environment    map[string]string `yaml:"environment,omitempty"`
	User           string            `yaml:"user,omitempty"`
	UserID         *int              `yaml:"user-id,omitempty"`
	Group          string            `yaml:"group,omitempty"`
	GroupID        *int              `yaml:"group-id,omitempty"`
	WorkingDir     string            `yaml:"working-dir,omitempty"`
	OnSuccess      string            `yaml:"on-success,omitempty"`
	OnFailure      string            `yaml:"on-failure,omitempty"`
	OnCheckFailure map[string]string `yaml:"on-check-failure,omitempty"`
	BackoffDelay   string            `yaml:"backoff-delay,omitempty"`
	BackoffFactor  *float64          `yaml:"backoff-factor,omitempty"`
	BackoffLimit   string            `yaml:"backoff-limit,omitempty"`
	KillDelay      string            `yaml:"kill-delay,omitempty"`
}

// A health check evaluated by the supervisor. Exactly one of HTTP, TCP,
// or Exec is set.
type Check struct {
	Override  string     `yaml:"override"`
	Level     string     `yaml:"level,omitempty"`
	Period    string     `yaml:"period,omitempty"`
	Timeout   string     `yaml:"timeout,omitempty"`
	Threshold *int       `yaml:"threshold,omitempty"`
	HTTP      *HTTPCheck `yaml:"http,omitempty"`
	TCP       *TCPCheck  `yaml:"tcp,omitempty"`
	Exec      *ExecCheck `yaml:"exec,omitempty"`
}

// Probes a URL; the check passes on a 2xx response.
type HTTPCheck struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Opens a TCP connection to Host:Port. Host defaults to localhost.
type TCPCheck struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host,omitempty"`
}

// Runs a command; the check passes when it exits with status 0.
type ExecCheck struct {
	Command        string            `yaml:"command"`
	ServiceContext string            `yaml:"service-context,omitempty"`
	Environment    map[string]string `yaml:"environment,omitempty"`
	User           string            `yaml:"user,omitempty"`
	UserID         *int              `yaml:"user-id,omitempty"`
	Group          string            `yaml:"group,omitempty"`
	GroupID        *int              `yaml:"group-id,omitempty"`
	WorkingDir     string            `yaml:"working-dir,omitempty"`
}

// A supervisor configuration layer file.
//
// Name and Version identify the image the layer belongs to. The supervisor
// rejects unknown keys, so they are written as a header comment.
type Layer struct {
	Name        string             `yaml:"-"`
	Version     string             `yaml:"-"`
	Summary     string             `yaml:"summary,omitempty"`
	Description string             `yaml:"description,omitempty"`
	Services    map[string]Service `yaml:"services,omitempty"`
	Checks      map[string]Check   `yaml:"checks,omitempty"`
}

// Serializes the layer as YAML. Map keys are emitted in sorted order.
func (l Layer) Marshal() ([]byte, error) {
	b, err := yaml.Marshal(l)
	if err != nil {
		return nil, err
	}
	if l.Name == "" {
		return b, nil
	}
	header := fmt.Sprintf("# %s %s\n", l.Name, l.Version)
	return append([]byte(header), b...), nil
}

// Returns the layer file path, relative to the image root, for a new layer
// named after the image.
//
// existing holds the names of layer files already present in the layers
// directory. The new file takes the next three-digit order prefix after the
// highest one found, starting at 001.
func LayerPath(existing []string, name string) string {
	next := 1
	for _, e := range existing {
		if len(e) < 4 || e[3] != '-' {
			continue
		}
		n, err := strconv.Atoi(e[:3])
		if err != nil {
			continue
		}
		if n >= next {
			next = n + 1
		}
	}
	return path.Join(LayersDir, fmt.Sprintf("%03d-%s.yaml", next, name))
}

// Returns the sorted keys of a map.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
