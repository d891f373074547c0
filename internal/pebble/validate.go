package pebble

import (
	"fmt"
	"slices"
)

var (
	overrides      = []string{"merge", "replace"}
	startups       = []string{"", "enabled", "disabled"}
	serviceActions = []string{"", "restart", "shutdown", "ignore", "success-shutdown", "failure-shutdown"}
	checkLevels    = []string{"", "alive", "ready"}
)

// Returns one message per problem found in the declarations, sorted by
// service then check name. An empty result means the declarations are valid.
func Validate(services map[string]Service, checks map[string]Check) []string {
	var problems []string

	for _, name := range sortedKeys(services) {
		for _, p := range services[name].validate() {
			problems = append(problems, fmt.Sprintf("services.%s: %s", name, p))
		}
	}
	for _, name := range sortedKeys(checks) {
		for _, p := range checks[name].validate() {
			problems = append(problems, fmt.Sprintf("checks.%s: %s", name, p))
		}
	}

	return problems
}

func (s Service) validate() []string {
	var problems []string
	if !slices.Contains(overrides, s.Override) {
		problems = append(problems, fmt.Sprintf("override must be one of %v, got %q", overrides, s.Override))
	}
	if s.Command == "" {
		problems = append(problems, "command is required")
	}
	if !slices.Contains(startups, s.Startup) {
		problems = append(problems, fmt.Sprintf("invalid startup %q", s.Startup))
	}
	if !slices.Contains(serviceActions, s.OnSuccess) {
		problems = append(problems, fmt.Sprintf("invalid on-success action %q", s.OnSuccess))
	}
	if !slices.Contains(serviceActions, s.OnFailure) {
		problems = append(problems, fmt.Sprintf("invalid on-failure action %q", s.OnFailure))
	}
	for _, check := range sortedKeys(s.OnCheckFailure) {
		if a := s.OnCheckFailure[check]; !slices.Contains(serviceActions, a) {
			problems = append(problems, fmt.Sprintf("invalid on-check-failure action %q for %s", a, check))
		}
	}
	return problems
}

func (c Check) validate() []string {
	var problems []string
	if !slices.Contains(overrides, c.Override) {
		problems = append(problems, fmt.Sprintf("override must be one of %v, got %q", overrides, c.Override))
	}
	if !slices.Contains(checkLevels, c.Level) {
		problems = append(problems, fmt.Sprintf("invalid level %q", c.Level))
	}

	kinds := 0
	if c.HTTP != nil {
		kinds++
		if c.HTTP.URL == "" {
			problems = append(problems, "http.url is required")
		}
	}
	if c.TCP != nil {
		kinds++
		if c.TCP.Port <= 0 {
			problems = append(problems, "tcp.port is required")
		}
	}
	if c.Exec != nil {
		kinds++
		if c.Exec.Command == "" {
			problems = append(problems, "exec.command is required")
		}
	}
	if kinds != 1 {
		problems = append(problems, "exactly one of http, tcp, or exec is required")
	}
	return problems
}
