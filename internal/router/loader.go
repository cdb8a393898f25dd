package router

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RouteSpec is one entry of the routes YAML file. Exactly one of
// Reply (a static text response) or Action (the name of a handler
// registered by the application) must be set.
type RouteSpec struct {
	Pattern    string `yaml:"pattern"`
	IgnoreCase bool   `yaml:"ignoreCase,omitempty"`
	Reply      string `yaml:"reply,omitempty"`
	Action     string `yaml:"action,omitempty"`
}

type routesFile struct {
	Routes []RouteSpec `yaml:"routes"`
}

// Build constructs a Table from specs, preserving file order as
// precedence. Named actions are resolved from the actions map.
func Build(specs []RouteSpec, actions map[string]Handler) (*Table, error) {
	t := NewTable()
	for i, spec := range specs {
		if spec.Pattern == "" {
			return nil, fmt.Errorf("route %d: pattern is required", i)
		}
		switch {
		case spec.Reply != "" && spec.Action != "":
			return nil, fmt.Errorf("route %d (%q): reply and action are mutually exclusive", i, spec.Pattern)
		case spec.Reply != "":
			if err := t.AddStatic(spec.Pattern, spec.IgnoreCase, spec.Reply); err != nil {
				return nil, err
			}
		case spec.Action != "":
			h, ok := actions[spec.Action]
			if !ok {
				return nil, fmt.Errorf("route %d (%q): unknown action %q", i, spec.Pattern, spec.Action)
			}
			if err := t.Add(spec.Pattern, spec.IgnoreCase, h); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("route %d (%q): reply or action is required", i, spec.Pattern)
		}
	}
	return t, nil
}

// LoadFile reads a routes YAML file and builds the table from it.
func LoadFile(path string, actions map[string]Handler) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return Load(data, actions)
}

// Load builds a table from raw YAML.
func Load(data []byte, actions map[string]Handler) (*Table, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	return Build(f.Routes, actions)
}

// DefaultSpecs returns the built-in route table used when no routes
// file is configured: a greeting reply, a thanks reply, and a link
// route that renders a rich card.
func DefaultSpecs() []RouteSpec {
	return []RouteSpec{
		{Pattern: `hello|hi|greetings`, IgnoreCase: true, Reply: "Hello! How can I assist you today?"},
		{Pattern: `thank(s| you)`, IgnoreCase: true, Reply: "You're welcome!"},
		{Pattern: `https?://\S+`, Action: "link_card"},
	}
}
