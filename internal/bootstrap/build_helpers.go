package bootstrap

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"deepagent/internal/config"
	"deepagent/internal/defaults"
	"deepagent/internal/delegate"
	"deepagent/internal/fsstore"
	"deepagent/internal/security"
	"deepagent/internal/tools"
)

func resolveWorkspaceRoot(cfg config.Config, workspaceRoot string) (string, error) {
	root := strings.TrimSpace(workspaceRoot)
	if root == "" {
		root = strings.TrimSpace(cfg.Runtime.WorkspaceRoot)
	}
	if root == "" {
		return "", fmt.Errorf("workspace root is empty")
	}
	return root, nil
}

// buildToolRegistry returns every operation the backend supports. execute only
// exists on the real backend.
func buildToolRegistry(cfg config.Config, ws *security.Workspace, backend string, log *zap.Logger) (*tools.Registry, *tools.TaskTool) {
	taskTool := tools.NewTaskTool(nil)
	toolList := []tools.Tool{
		tools.NewListTool(),
		tools.NewReadTool(),
		tools.NewWriteTool(),
		tools.NewEditTool(),
		tools.NewGlobTool(),
		tools.NewGrepTool(),
		tools.NewTodoWriteTool(),
		taskTool,
	}
	if backend == fsstore.BackendReal {
		toolList = append(toolList, tools.NewExecuteTool(ws, cfg.Safety.CommandTimeoutMS, cfg.Safety.OutputLimitBytes, log))
	}
	return tools.NewRegistry(toolList...), taskTool
}

// mainRegistry applies runtime.builtin_tools to the main agent. task is always
// kept so delegation stays available.
func mainRegistry(all *tools.Registry, builtin []string) (*tools.Registry, error) {
	if len(builtin) == 0 {
		return all, nil
	}
	names := append([]string(nil), builtin...)
	hasTask := false
	for _, n := range names {
		if n == tools.TaskToolName {
			hasTask = true
		}
	}
	if !hasTask {
		names = append(names, tools.TaskToolName)
	}
	reg, err := all.Subset(names)
	if err != nil {
		return nil, fmt.Errorf("runtime.builtin_tools: %w", err)
	}
	return reg, nil
}

// loadSubagentSpecs reads the YAML spec file, then appends inline definitions.
// A general-purpose entry with the sub-agent prompt is added unless one is
// configured.
func loadSubagentSpecs(cfg config.Config, root string) ([]delegate.Spec, error) {
	var specs []delegate.Spec
	if p := strings.TrimSpace(cfg.Subagents.Path); p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		loaded, err := delegate.LoadSpecs(p)
		if err != nil {
			return nil, fmt.Errorf("subagents.path: %w", err)
		}
		specs = append(specs, loaded...)
	}
	for _, d := range cfg.Subagents.Definitions {
		specs = append(specs, delegate.Spec{
			Name:        d.Name,
			Description: d.Description,
			Prompt:      d.Prompt,
			Tools:       append([]string(nil), d.Tools...),
			Model:       d.Model,
		})
	}
	for _, s := range specs {
		if s.Name == delegate.GeneralPurpose {
			return specs, nil
		}
	}
	gp := delegate.Spec{
		Name:        delegate.GeneralPurpose,
		Description: delegate.GeneralPurposeDescription,
		Prompt:      defaults.GeneralPurposePrompt,
	}
	return append([]delegate.Spec{gp}, specs...), nil
}
