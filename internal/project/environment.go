package project

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// A single environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// Ordered environment variables.
//
// Decodes from a mapping, which keeps document order, or from a list of
// single-key mappings.
type Environment []EnvVar

// Decodes a mapping or a list of mappings, preserving order.
func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		return e.appendMapping(node)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: environment entries must be mappings", item.Line)
			}
			if err := e.appendMapping(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: environment must be a mapping", node.Line)
	}
}

// Appends the key/value pairs of a mapping node.
func (e *Environment) appendMapping(node *yaml.Node) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: value of %s must be a string", v.Line, k.Value)
		}
		*e = append(*e, EnvVar{Name: k.Value, Value: v.Value})
	}
	return nil
}
