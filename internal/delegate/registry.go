package delegate

import (
	"fmt"
	"sort"
	"strings"

	"deepagent/internal/tools"
)

const GeneralPurpose = "general-purpose"

const GeneralPurposeDescription = "General-purpose agent for researching complex questions, searching for files and content, and executing multi-step tasks."

// Agent is a sub-agent spec bound to the operations it may call.
type Agent struct {
	Spec  Spec
	Tools *tools.Registry
}

// Registry maps sub-agent names to resolved agents. It is built once and never
// changes afterwards.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry resolves every spec's tool names against all. A name that does
// not resolve fails the build. The general-purpose agent is always present and
// gets every operation except task unless a spec overrides it.
func NewRegistry(all *tools.Registry, specs []Spec) (*Registry, error) {
	r := &Registry{agents: make(map[string]Agent, len(specs)+1)}

	generalTools := make([]string, 0, len(all.Names()))
	for _, name := range all.Names() {
		if name != tools.TaskToolName {
			generalTools = append(generalTools, name)
		}
	}
	gp, err := all.Subset(generalTools)
	if err != nil {
		return nil, err
	}
	r.agents[GeneralPurpose] = Agent{
		Spec:  Spec{Name: GeneralPurpose, Description: GeneralPurposeDescription},
		Tools: gp,
	}

	for _, s := range specs {
		names := s.Tools
		if len(names) == 0 {
			names = generalTools
		}
		sub, err := all.Subset(names)
		if err != nil {
			return nil, fmt.Errorf("subagent %q: %w", s.Name, err)
		}
		r.agents[s.Name] = Agent{Spec: s, Tools: sub}
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Describe renders the "- name: description" catalogue shown in the task
// operation's definition.
func (r *Registry) Describe() string {
	var b strings.Builder
	for i, name := range r.Names() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", name, r.agents[name].Spec.Description)
	}
	return b.String()
}
