package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	BackendVirtual = "virtual"
	BackendReal    = "real"
)

type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key,omitempty"`
	TimeoutMS  int    `json:"timeout_ms"`
	MaxRetries int    `json:"max_retries"`
}

type RuntimeConfig struct {
	WorkspaceRoot        string   `json:"workspace_root"`
	Backend              string   `json:"backend"`
	MaxSteps             int      `json:"max_steps"`
	ContextTokenLimit    int      `json:"context_token_limit"`
	ToolResultTokenLimit int      `json:"tool_result_token_limit"`
	SubagentTimeoutMS    int      `json:"subagent_timeout_ms"`
	BuiltinTools         []string `json:"builtin_tools,omitempty"`
	SystemPrompt         string   `json:"system_prompt,omitempty"`
}

type SafetyConfig struct {
	CommandTimeoutMS int `json:"command_timeout_ms"`
	OutputLimitBytes int `json:"output_limit_bytes"`
}

type CompactionConfig struct {
	Auto           bool    `json:"auto"`
	Threshold      float64 `json:"threshold"`
	RecentMessages int     `json:"recent_messages"`
}

type ApprovalConfig struct {
	// Interactive 决定是否在终端提示人工审批；关闭时所有受控操作被拒绝。
	// Interactive decides whether gated operations prompt on the terminal; when
	// false they are rejected.
	Interactive bool `json:"interactive"`
	// GatedTools nil means the default gated set.
	GatedTools      []string `json:"gated_tools,omitempty"`
	PromptTimeoutMS int      `json:"prompt_timeout_ms"`
}

type SubagentDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"`
}

type SubagentConfig struct {
	// Path points at a YAML file of sub-agent specs; relative paths resolve
	// against the workspace root.
	Path        string               `json:"path,omitempty"`
	Definitions []SubagentDefinition `json:"definitions,omitempty"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

type Config struct {
	Provider   ProviderConfig   `json:"provider"`
	Runtime    RuntimeConfig    `json:"runtime"`
	Safety     SafetyConfig     `json:"safety"`
	Compaction CompactionConfig `json:"compaction"`
	Approval   ApprovalConfig   `json:"approval"`
	Subagents  SubagentConfig   `json:"subagents"`
	Storage    StorageConfig    `json:"storage"`
	Log        LogConfig        `json:"log"`
}

type fileCompactionConfig struct {
	Auto           *bool    `json:"auto"`
	Threshold      *float64 `json:"threshold"`
	RecentMessages *int     `json:"recent_messages"`
}

type fileApprovalConfig struct {
	Interactive     *bool     `json:"interactive"`
	GatedTools      *[]string `json:"gated_tools"`
	PromptTimeoutMS *int      `json:"prompt_timeout_ms"`
}

type fileLogConfig struct {
	Level *string `json:"level"`
	JSON  *bool   `json:"json"`
}

type fileConfig struct {
	Provider   *ProviderConfig       `json:"provider"`
	Runtime    *RuntimeConfig        `json:"runtime"`
	Safety     *SafetyConfig         `json:"safety"`
	Compaction *fileCompactionConfig `json:"compaction"`
	Approval   *fileApprovalConfig   `json:"approval"`
	Subagents  *SubagentConfig       `json:"subagents"`
	Storage    *StorageConfig        `json:"storage"`
	Log        *fileLogConfig        `json:"log"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			TimeoutMS:  120000,
			MaxRetries: 2,
		},
		Runtime: RuntimeConfig{
			Backend:              BackendVirtual,
			MaxSteps:             DefaultRuntimeMaxSteps,
			ContextTokenLimit:    DefaultRuntimeContextTokenLimit,
			ToolResultTokenLimit: DefaultToolResultTokenLimit,
			SubagentTimeoutMS:    DefaultSubagentTimeoutMS,
		},
		Safety: SafetyConfig{
			CommandTimeoutMS: 120000,
			OutputLimitBytes: 1 << 20,
		},
		Compaction: CompactionConfig{
			Auto:           true,
			Threshold:      DefaultCompactionThreshold,
			RecentMessages: DefaultCompactionRecentMessages,
		},
		Approval: ApprovalConfig{
			Interactive: true,
		},
		Storage: StorageConfig{BaseDir: "~/.deepagent"},
		Log:     LogConfig{Level: "warn"},
	}
}

// Load 按 默认值 → 全局配置 → 项目配置 → 环境变量 的顺序合并配置。
// Load merges defaults, the global file, the project file and AGENT_* env vars,
// in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("AGENT_CONFIG_PATH")); envPath != "" && resolvedPath == "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".deepagent", "config.json")}
}

func findProjectConfigPath() string {
	for _, c := range []string{ProjectConfigFile, filepath.Join(ProjectConfigDir, "config.json")} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fileCfg fileConfig
	if err := json.Unmarshal(stripJSONComments(data), &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Runtime != nil {
		cfg.Runtime = mergeRuntime(cfg.Runtime, *fc.Runtime)
	}
	if fc.Safety != nil {
		if fc.Safety.CommandTimeoutMS > 0 {
			cfg.Safety.CommandTimeoutMS = fc.Safety.CommandTimeoutMS
		}
		if fc.Safety.OutputLimitBytes > 0 {
			cfg.Safety.OutputLimitBytes = fc.Safety.OutputLimitBytes
		}
	}
	if fc.Compaction != nil {
		if fc.Compaction.Auto != nil {
			cfg.Compaction.Auto = *fc.Compaction.Auto
		}
		if fc.Compaction.Threshold != nil {
			cfg.Compaction.Threshold = *fc.Compaction.Threshold
		}
		if fc.Compaction.RecentMessages != nil {
			cfg.Compaction.RecentMessages = *fc.Compaction.RecentMessages
		}
	}
	if fc.Approval != nil {
		if fc.Approval.Interactive != nil {
			cfg.Approval.Interactive = *fc.Approval.Interactive
		}
		if fc.Approval.GatedTools != nil {
			cfg.Approval.GatedTools = append([]string{}, (*fc.Approval.GatedTools)...)
		}
		if fc.Approval.PromptTimeoutMS != nil {
			cfg.Approval.PromptTimeoutMS = *fc.Approval.PromptTimeoutMS
		}
	}
	if fc.Subagents != nil {
		if strings.TrimSpace(fc.Subagents.Path) != "" {
			cfg.Subagents.Path = fc.Subagents.Path
		}
		// 项目级定义追加在全局定义之后 / project definitions append to global ones
		cfg.Subagents.Definitions = append(cfg.Subagents.Definitions, fc.Subagents.Definitions...)
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.BaseDir) != "" {
		cfg.Storage.BaseDir = fc.Storage.BaseDir
	}
	if fc.Log != nil {
		if fc.Log.Level != nil {
			cfg.Log.Level = *fc.Log.Level
		}
		if fc.Log.JSON != nil {
			cfg.Log.JSON = *fc.Log.JSON
		}
	}
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	return base
}

func mergeRuntime(base, override RuntimeConfig) RuntimeConfig {
	if strings.TrimSpace(override.WorkspaceRoot) != "" {
		base.WorkspaceRoot = override.WorkspaceRoot
	}
	if strings.TrimSpace(override.Backend) != "" {
		base.Backend = override.Backend
	}
	if override.MaxSteps > 0 {
		base.MaxSteps = override.MaxSteps
	}
	if override.ContextTokenLimit > 0 {
		base.ContextTokenLimit = override.ContextTokenLimit
	}
	if override.ToolResultTokenLimit > 0 {
		base.ToolResultTokenLimit = override.ToolResultTokenLimit
	}
	if override.SubagentTimeoutMS > 0 {
		base.SubagentTimeoutMS = override.SubagentTimeoutMS
	}
	if override.BuiltinTools != nil {
		base.BuiltinTools = append([]string(nil), override.BuiltinTools...)
	}
	if strings.TrimSpace(override.SystemPrompt) != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	cfg.Provider.BaseURL = strings.TrimSpace(cfg.Provider.BaseURL)
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	cfg.Provider.Model = strings.TrimSpace(cfg.Provider.Model)
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}

	cfg.Runtime.Backend = strings.ToLower(strings.TrimSpace(cfg.Runtime.Backend))
	switch cfg.Runtime.Backend {
	case "":
		cfg.Runtime.Backend = def.Runtime.Backend
	case BackendVirtual, BackendReal:
	default:
		return fmt.Errorf("invalid runtime.backend %q: want %q or %q", cfg.Runtime.Backend, BackendVirtual, BackendReal)
	}
	if cfg.Runtime.MaxSteps <= 0 {
		cfg.Runtime.MaxSteps = def.Runtime.MaxSteps
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}
	if cfg.Runtime.ToolResultTokenLimit <= 0 {
		cfg.Runtime.ToolResultTokenLimit = def.Runtime.ToolResultTokenLimit
	}
	if cfg.Runtime.SubagentTimeoutMS <= 0 {
		cfg.Runtime.SubagentTimeoutMS = def.Runtime.SubagentTimeoutMS
	}
	cfg.Runtime.BuiltinTools = normalizeNames(cfg.Runtime.BuiltinTools)
	cfg.Runtime.WorkspaceRoot = strings.TrimSpace(cfg.Runtime.WorkspaceRoot)

	if cfg.Safety.CommandTimeoutMS <= 0 {
		cfg.Safety.CommandTimeoutMS = def.Safety.CommandTimeoutMS
	}
	if cfg.Safety.OutputLimitBytes <= 0 {
		cfg.Safety.OutputLimitBytes = def.Safety.OutputLimitBytes
	}
	if cfg.Compaction.Threshold <= 0 || cfg.Compaction.Threshold >= 1 {
		cfg.Compaction.Threshold = def.Compaction.Threshold
	}
	if cfg.Compaction.RecentMessages <= 0 {
		cfg.Compaction.RecentMessages = def.Compaction.RecentMessages
	}
	if cfg.Approval.GatedTools != nil {
		cfg.Approval.GatedTools = normalizeNames(cfg.Approval.GatedTools)
	}
	if cfg.Approval.PromptTimeoutMS < 0 {
		cfg.Approval.PromptTimeoutMS = 0
	}

	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if storageDir == "" {
		if storageDir, err = expandPath(def.Storage.BaseDir); err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = storageDir

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("AGENT_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORKSPACE_ROOT")); v != "" {
		cfg.Runtime.WorkspaceRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_MAX_STEPS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid AGENT_MAX_STEPS: %q", v)
		}
		cfg.Runtime.MaxSteps = n
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_BACKEND")); v != "" {
		cfg.Runtime.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_STATE_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	return cfg, normalize(&cfg)
}

// normalizeNames trims, drops blanks and de-duplicates while keeping order.
func normalizeNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, 0, len(names))
	seen := map[string]struct{}{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments removes // and /* */ comments outside string literals.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return out.Bytes()
}
