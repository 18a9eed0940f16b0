package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"deepagent/internal/chat"
)

type Registry struct {
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

func (r *Registry) Definitions() []chat.ToolDef {
	out := make([]chat.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Subset builds a registry holding only names. Every name must resolve.
func (r *Registry) Subset(names []string) (*Registry, error) {
	ts := make([]Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool: %s", name)
		}
		ts = append(ts, t)
	}
	return NewRegistry(ts...), nil
}

func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, args)
}

// Risk returns the tool's reason for always asking about this call, if any.
func (r *Registry) Risk(name string, args json.RawMessage) string {
	t, ok := r.tools[name]
	if !ok {
		return ""
	}
	ra, ok := t.(RiskAware)
	if !ok {
		return ""
	}
	return ra.Risk(args)
}
