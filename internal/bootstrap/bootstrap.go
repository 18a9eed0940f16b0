package bootstrap

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepagent/internal/approval"
	"deepagent/internal/config"
	"deepagent/internal/contextmgr"
	"deepagent/internal/defaults"
	"deepagent/internal/delegate"
	"deepagent/internal/fsstore"
	"deepagent/internal/orchestrator"
	"deepagent/internal/provider"
	"deepagent/internal/security"
	"deepagent/internal/session"
	"deepagent/internal/storage"
)

// Options carries what the caller decides rather than the config file.
type Options struct {
	// WorkspaceRoot overrides runtime.workspace_root.
	WorkspaceRoot string
	// ResumeID continues a stored session instead of creating one.
	ResumeID string
	// Prompter answers approval requests; nil rejects every gated action.
	Prompter approval.Prompter
	Logger   *zap.Logger
}

// BuildResult 与 UI 无关的构建结果
// BuildResult is UI-agnostic; the CLI drives Orch with Session.
type BuildResult struct {
	Orch          *orchestrator.Orchestrator
	Session       *session.State
	Store         storage.Store
	WorkspaceRoot string
	Backend       string
	Model         string
	SessionID     string
	Resumed       bool
	ToolNames     []string
	AgentNames    []string
}

// Build 按顺序初始化并返回 BuildResult；调用方负责 defer result.Store.Close()
// Build wires every component from cfg. The caller must close result.Store.
func Build(cfg config.Config, opts Options) (*BuildResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	root, err := resolveWorkspaceRoot(cfg, opts.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	ws, err := security.NewWorkspace(root)
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	dbPath := filepath.Join(cfg.Storage.BaseDir, storage.DBFileName)
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	res, err := build(cfg, opts, ws, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return res, nil
}

func build(cfg config.Config, opts Options, ws *security.Workspace, store storage.Store, log *zap.Logger) (*BuildResult, error) {
	st, resumed, err := openSession(cfg, opts.ResumeID, ws, store)
	if err != nil {
		return nil, err
	}
	backend := st.Store.Backend()
	log = log.With(zap.String("session", st.ID), zap.String("backend", backend))

	all, taskTool := buildToolRegistry(cfg, ws, backend, log)
	specs, err := loadSubagentSpecs(cfg, ws.Root())
	if err != nil {
		return nil, err
	}
	agents, err := delegate.NewRegistry(all, specs)
	if err != nil {
		return nil, fmt.Errorf("build subagent registry: %w", err)
	}
	taskTool.SetCatalogue(agents.Describe())

	mainTools, err := mainRegistry(all, cfg.Runtime.BuiltinTools)
	if err != nil {
		return nil, err
	}

	gate := buildGate(cfg, ws.Root(), opts.Prompter, storage.ApprovalJournal{Store: store, SessionID: st.ID}, all, log)
	st.Todos.SetSink(storage.TodoSink{Store: store, SessionID: st.ID})

	providerClient := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
		Logger:     log,
	})
	assembler := contextmgr.New(defaults.Compose(cfg.Runtime.SystemPrompt, mainTools.Has("execute")), ws.Root())

	orch := orchestrator.New(providerClient, mainTools, orchestrator.Options{
		MaxSteps:             cfg.Runtime.MaxSteps,
		Gate:                 gate,
		Assembler:            assembler,
		Tokenizer:            contextmgr.NewTokenizerForModel(cfg.Provider.Model),
		Compaction:           cfg.Compaction,
		ContextTokenLimit:    cfg.Runtime.ContextTokenLimit,
		ToolResultTokenLimit: cfg.Runtime.ToolResultTokenLimit,
		Checkpoints:          store,
		Logger:               log,
	})
	engine := delegate.NewEngine(agents, orch, delegate.EngineOptions{
		Timeout: time.Duration(cfg.Runtime.SubagentTimeoutMS) * time.Millisecond,
		Logger:  log,
	})
	taskTool.SetDelegator(engine)

	log.Info("agent ready",
		zap.Strings("tools", mainTools.Names()),
		zap.Strings("subagents", agents.Names()),
		zap.Bool("resumed", resumed),
	)
	return &BuildResult{
		Orch:          orch,
		Session:       st,
		Store:         store,
		WorkspaceRoot: ws.Root(),
		Backend:       backend,
		Model:         cfg.Provider.Model,
		SessionID:     st.ID,
		Resumed:       resumed,
		ToolNames:     mainTools.Names(),
		AgentNames:    agents.Names(),
	}, nil
}

// openSession creates a fresh session or restores the latest checkpoint of
// resumeID. A restored session keeps the backend it was created with.
func openSession(cfg config.Config, resumeID string, ws *security.Workspace, store storage.Store) (*session.State, bool, error) {
	resumeID = strings.TrimSpace(resumeID)
	if resumeID == "" {
		var fs fsstore.Store = fsstore.NewVirtualStore(nil)
		if cfg.Runtime.Backend == config.BackendReal {
			fs = fsstore.NewRealStore(ws)
		}
		meta := storage.SessionMeta{
			ID:      storage.NewSessionID(),
			Backend: fs.Backend(),
			Model:   cfg.Provider.Model,
			CWD:     ws.Root(),
		}
		if err := store.CreateSession(meta); err != nil {
			return nil, false, fmt.Errorf("create session: %w", err)
		}
		return session.New(meta.ID, fs, approval.NewCache()), false, nil
	}

	if _, err := store.LoadSession(resumeID); err != nil {
		return nil, false, fmt.Errorf("resume: %w", err)
	}
	rec, err := store.LatestCheckpoint(resumeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("resume %s: session has no checkpoint yet", resumeID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("resume: %w", err)
	}
	cp, err := session.UnmarshalCheckpoint(rec.Data)
	if err != nil {
		return nil, false, fmt.Errorf("resume %s: %w", resumeID, err)
	}
	st, err := session.Restore(resumeID, cp, fsstore.NewRealStore(ws))
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}
