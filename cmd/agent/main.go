package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	workspace  string
	resumeID   string
	backend    string
	plainOut   bool
)

// rootCmd 无子命令时进入 REPL
// rootCmd starts the REPL when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Deep agent with planning, files and sub-agents",
	Long: `A deep agent that plans with a todo list, works on a virtual or real file
system behind human approval, and delegates focused work to sub-agents.

Commands:
  run      - answer one request and exit
  repl     - interactive session (default)
  sessions - list stored sessions
  init     - write a project config template`,
	SilenceUsage: true,
	RunE:         runREPL,
}

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Answer one request and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOnce,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session",
	Args:  cobra.NoArgs,
	RunE:  runREPL,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write .deepagent/config.json in the workspace",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flags.StringVar(&workspace, "workspace", "", "Workspace root override")
	flags.StringVar(&resumeID, "resume", "", "Resume a stored session by id")
	flags.StringVar(&backend, "backend", "", "File backend: virtual or real")
	flags.BoolVar(&plainOut, "plain", false, "Print answers without markdown rendering")

	rootCmd.AddCommand(runCmd, replCmd, sessionsCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
