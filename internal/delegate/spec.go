package delegate

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec describes a named sub-agent: what it is for, how it is prompted and which
// operations it may call. An empty Tools list means every operation.
type Spec struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Prompt      string   `yaml:"prompt" json:"prompt"`
	Tools       []string `yaml:"tools" json:"tools,omitempty"`
	Model       string   `yaml:"model" json:"model,omitempty"`
}

type specFile struct {
	Subagents []Spec `yaml:"subagents"`
}

// LoadSpecs reads sub-agent specs from a YAML file. The file is either a list of
// specs or a mapping with a "subagents" list.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subagent specs: %w", err)
	}
	return ParseSpecs(data)
}

func ParseSpecs(data []byte) ([]Spec, error) {
	var list []Spec
	if err := yaml.Unmarshal(data, &list); err == nil {
		return normalizeSpecs(list)
	}
	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse subagent specs: %w", err)
	}
	return normalizeSpecs(f.Subagents)
}

func normalizeSpecs(specs []Spec) ([]Spec, error) {
	seen := map[string]bool{}
	out := make([]Spec, 0, len(specs))
	for i, s := range specs {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("subagent spec %d: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("subagent spec %q defined twice", s.Name)
		}
		seen[s.Name] = true
		s.Model = strings.TrimSpace(s.Model)
		tools := make([]string, 0, len(s.Tools))
		for _, t := range s.Tools {
			if t = strings.TrimSpace(t); t != "" {
				tools = append(tools, t)
			}
		}
		s.Tools = tools
		out = append(out, s)
	}
	return out, nil
}
