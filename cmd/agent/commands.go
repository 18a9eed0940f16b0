package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deepagent/internal/bootstrap"
	"deepagent/internal/config"
	"deepagent/internal/logging"
	"deepagent/internal/orchestrator"
	"deepagent/internal/storage"
)

var replCommands = []string{
	"/help     show commands",
	"/todo     show the todo list",
	"/files    list committed virtual files",
	"/tools    list operations of the main agent",
	"/agents   list sub-agent types",
	"/context  show context usage",
	"/compact  summarize older history now",
	"/session  show the session id",
	"/exit     quit",
}

const contextWarnPercent = 80

type app struct {
	cfg   config.Config
	log   *zap.Logger
	res   *bootstrap.BuildResult
	input lineInput
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if b := strings.ToLower(strings.TrimSpace(backend)); b != "" {
		if b != config.BackendVirtual && b != config.BackendReal {
			return cfg, fmt.Errorf("invalid --backend %q: want %q or %q", backend, config.BackendVirtual, config.BackendReal)
		}
		cfg.Runtime.Backend = b
	}
	return cfg, nil
}

func resolveWorkspaceRoot(override string, cfg config.Config) (string, error) {
	if root := strings.TrimSpace(override); root != "" {
		return root, nil
	}
	if root := strings.TrimSpace(cfg.Runtime.WorkspaceRoot); root != "" {
		return root, nil
	}
	return os.Getwd()
}

// newApp wires the agent. The line input is shared by the REPL and the
// approval prompt; without a terminal there is no prompter and gated actions
// are rejected.
func newApp(interactive bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, err
	}
	root, err := resolveWorkspaceRoot(workspace, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	opts := bootstrap.Options{WorkspaceRoot: root, ResumeID: resumeID, Logger: log}
	if stdinIsTerminal() {
		if interactive {
			input, inputErr := newLineInput(filepath.Join(cfg.Storage.BaseDir, "repl.history"))
			if inputErr != nil {
				fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
			}
			a.input = newSharedInput(input, os.Stdout)
		} else {
			a.input = newSharedInput(newBasicLineInput(os.Stdin, os.Stdout), os.Stdout)
		}
		opts.Prompter = newTerminalPrompter(a.input, os.Stdout)
	}

	res, err := bootstrap.Build(cfg, opts)
	if err != nil {
		a.close()
		return nil, err
	}
	a.res = res
	res.Orch.SetToolEventCallback(func(agent, name, summary string, done bool) {
		log.Debug("tool event",
			zap.String("agent", agent),
			zap.String("tool", name),
			zap.String("summary", summary),
			zap.Bool("done", done),
		)
	})
	return a, nil
}

func (a *app) close() {
	if a.input != nil {
		_ = a.input.Close()
	}
	if a.res != nil {
		_ = a.res.Store.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// turn runs one request. Ctrl-C cancels the turn, not the process.
func (a *app) turn(input string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	answer, err := a.res.Orch.RunTurn(ctx, a.res.Session, input, out)
	if err != nil {
		if errors.Is(err, orchestrator.ErrStepLimit) {
			fmt.Fprintf(out, "stopped after %d steps\n", a.cfg.Runtime.MaxSteps)
			return nil
		}
		return err
	}
	fmt.Fprintln(out, renderAnswer(answer, !plainOut && stdoutIsTerminal()))
	return nil
}

func runOnce(_ *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.turn(strings.Join(args, " "), os.Stdout); err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "session: %s\n", a.res.SessionID)
	return nil
}

func runREPL(_ *cobra.Command, _ []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()
	if a.input == nil {
		a.input = newSharedInput(newBasicLineInput(os.Stdin, os.Stdout), os.Stdout)
	}

	a.res.Orch.SetTodoUpdateCallback(func(items []string) {
		fmt.Fprintln(os.Stdout, strings.Join(items, "\n"))
	})
	a.res.Orch.SetContextUpdateCallback(func(tokens, limit int, percent float64) {
		if percent >= contextWarnPercent {
			fmt.Fprintf(os.Stderr, "context %.0f%% full (%d/%d tokens); /compact summarizes older history\n", percent, tokens, limit)
		}
	})

	verb := "started"
	if a.res.Resumed {
		verb = "resumed"
	}
	fmt.Printf("deep agent %s in workspace: %s\n", verb, a.res.WorkspaceRoot)
	fmt.Printf("session: %s backend=%s model=%s\n", a.res.SessionID, a.res.Backend, a.res.Model)
	printREPLCommands(os.Stdout)

	for {
		line, err := a.input.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(os.Stdout)
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(os.Stderr, "\nexit")
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if handled, shouldExit := a.handleCommand(input, os.Stdout); handled {
				if shouldExit {
					return nil
				}
				continue
			}
		}
		if err := a.turn(input, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
		}
	}
}

func (a *app) handleCommand(input string, out io.Writer) (bool, bool) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, false
	}
	st := a.res.Session
	switch parts[0] {
	case "/exit", "/quit":
		return true, true
	case "/help":
		printREPLCommands(out)
	case "/session":
		fmt.Fprintf(out, "%s backend=%s\n", st.ID, a.res.Backend)
	case "/todo":
		items := st.Todos.Items()
		if len(items) == 0 {
			fmt.Fprintln(out, "no todos")
			break
		}
		for _, it := range items {
			fmt.Fprintf(out, "%s %s\n", todoMarker(string(it.Status)), it.Content)
		}
	case "/files":
		vs, ok := st.Virtual()
		if !ok {
			fmt.Fprintln(out, "real backend: files live in the workspace")
			break
		}
		files := vs.Committed()
		if len(files) == 0 {
			fmt.Fprintln(out, "no files")
			break
		}
		for _, p := range files.Paths() {
			fmt.Fprintf(out, "%s  (%d bytes)\n", p, len(files[p]))
		}
	case "/tools":
		fmt.Fprintln(out, strings.Join(a.res.Orch.Tools().Names(), "\n"))
	case "/agents":
		fmt.Fprintln(out, strings.Join(a.res.AgentNames, "\n"))
	case "/context":
		stats := a.res.Orch.CurrentContextStats(st)
		fmt.Fprintf(out, "context: %d/%d tokens (%.1f%%) messages=%d counter=%s\n",
			stats.EstimatedTokens, stats.ContextLimit, stats.UsagePercent, stats.MessageCount, stats.Counter)
	case "/compact":
		if a.res.Orch.CompactNow(context.Background(), st) {
			fmt.Fprintf(out, "history compacted:\n%s\n", a.res.Orch.LastCompactionSummary())
		} else {
			fmt.Fprintln(out, "nothing to compact")
		}
	default:
		return false, false
	}
	return true, false
}

func runInit(cmd *cobra.Command, _ []string) error {
	dir, err := resolveWorkspaceRoot(workspace, config.Default())
	if err != nil {
		return fmt.Errorf("resolve cwd: %w", err)
	}
	path, err := config.InitProjectConfigScaffold(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "project config: %s\n", path)
	return nil
}

func runSessions(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := storage.NewSQLiteStore(filepath.Join(cfg.Storage.BaseDir, storage.DBFileName))
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()
	return listSessions(store, cmd.OutOrStdout())
}

func listSessions(store storage.Store, out io.Writer) error {
	metas, err := store.ListSessions()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(metas) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	for _, m := range metas {
		fmt.Fprintf(out, "%s  backend=%s  updated=%s  %s\n", m.ID, m.Backend, m.UpdatedAt, quoteSummary(m.Summary))
	}
	return nil
}

func quoteSummary(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return fmt.Sprintf("%q", s)
}

func todoMarker(status string) string {
	switch status {
	case "completed":
		return "[x]"
	case "in_progress":
		return "[~]"
	default:
		return "[ ]"
	}
}
