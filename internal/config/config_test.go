package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at fresh temp dirs and clears
// every env override.
func isolate(t *testing.T) (home, work string) {
	t.Helper()
	home = t.TempDir()
	work = t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"AGENT_CONFIG_PATH", "AGENT_BASE_URL", "AGENT_MODEL", "AGENT_API_KEY", "OPENAI_API_KEY",
		"AGENT_WORKSPACE_ROOT", "AGENT_MAX_STEPS", "AGENT_BACKEND", "AGENT_LOG_LEVEL", "AGENT_STATE_DIR"} {
		t.Setenv(k, "")
	}
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(work))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	return home, work
}

func TestLoadDefaults(t *testing.T) {
	home, _ := isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendVirtual, cfg.Runtime.Backend)
	assert.Equal(t, DefaultRuntimeMaxSteps, cfg.Runtime.MaxSteps)
	assert.True(t, cfg.Approval.Interactive)
	assert.Nil(t, cfg.Approval.GatedTools)
	assert.Equal(t, filepath.Join(home, ".deepagent"), cfg.Storage.BaseDir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadJSONCAndPrecedence(t *testing.T) {
	home, _ := isolate(t)
	globalDir := filepath.Join(home, ".deepagent")
	require.NoError(t, os.MkdirAll(globalDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(`{
  // global
  "provider": {"model": "global-model", "base_url": "http://global/v1"},
  "compaction": {"auto": false},
  "subagents": {"definitions": [{"name": "reviewer", "description": "reviews"}]}
}`), 0o644))
	require.NoError(t, os.WriteFile(ProjectConfigFile, []byte(`{
  "provider": {"model": "project-model"}, /* project wins */
  "runtime": {"backend": "REAL", "builtin_tools": ["ls", " read_file", "ls"]},
  "approval": {"gated_tools": [], "prompt_timeout_ms": 5000},
  "subagents": {"path": "agents.yaml", "definitions": [{"name": "debugger"}]}
}`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Provider.Model)
	assert.Equal(t, "http://global/v1", cfg.Provider.BaseURL)
	assert.False(t, cfg.Compaction.Auto)
	assert.Equal(t, BackendReal, cfg.Runtime.Backend)
	assert.Equal(t, []string{"ls", "read_file"}, cfg.Runtime.BuiltinTools)
	assert.NotNil(t, cfg.Approval.GatedTools)
	assert.Empty(t, cfg.Approval.GatedTools)
	assert.Equal(t, 5000, cfg.Approval.PromptTimeoutMS)
	assert.Equal(t, "agents.yaml", cfg.Subagents.Path)
	require.Len(t, cfg.Subagents.Definitions, 2)
	assert.Equal(t, "reviewer", cfg.Subagents.Definitions[0].Name)
}

func TestEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("AGENT_MODEL", "env-model")
	t.Setenv("AGENT_BACKEND", "real")
	t.Setenv("AGENT_LOG_LEVEL", "DEBUG")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Provider.Model)
	assert.Equal(t, BackendReal, cfg.Runtime.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sk-fallback", cfg.Provider.APIKey)

	t.Setenv("AGENT_API_KEY", "sk-agent")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-agent", cfg.Provider.APIKey)
}

func TestInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("AGENT_MAX_STEPS", "zero")
	_, err := Load("")
	require.ErrorContains(t, err, "AGENT_MAX_STEPS")

	t.Setenv("AGENT_MAX_STEPS", "")
	t.Setenv("AGENT_BACKEND", "s3")
	_, err = Load("")
	require.ErrorContains(t, err, "runtime.backend")
}

func TestExplicitPathAndParseError(t *testing.T) {
	_, work := isolate(t)
	path := filepath.Join(work, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"runtime": {"max_steps": 7}}`), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Runtime.MaxSteps)

	require.NoError(t, os.WriteFile(path, []byte(`{"runtime": `), 0o644))
	_, err = Load(path)
	require.ErrorContains(t, err, "parse config")
}

func TestStripJSONCommentsKeepsStrings(t *testing.T) {
	in := `{"url": "http://x//y", /* c */ "a": 1 // tail
}`
	assert.JSONEq(t, `{"url": "http://x//y", "a": 1}`, string(stripJSONComments([]byte(in))))
}

func TestInitProjectConfigScaffold(t *testing.T) {
	_, work := isolate(t)
	path, err := InitProjectConfigScaffold(work)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, ProjectConfigDir, "config.json"), path)

	require.NoError(t, os.WriteFile(path, []byte(`{"runtime":{"max_steps":3}}`), 0o644))
	_, err = InitProjectConfigScaffold(work)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_steps":3`, "existing config is kept")
}
