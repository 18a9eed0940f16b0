package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepagent/internal/chat"
	"deepagent/internal/security"
	"deepagent/internal/toolerr"
)

const (
	defaultCommandTimeout = 2 * time.Minute
	// pipeWaitDelay bounds how long Run waits on output pipes after the kill.
	pipeWaitDelay = 500 * time.Millisecond
)

// ExecuteTool runs a shell command inside the workspace. It only exists on the
// real backend.
type ExecuteTool struct {
	ws               *security.Workspace
	commandTimeoutMS int
	outputLimitBytes int
	log              *zap.Logger
}

func NewExecuteTool(ws *security.Workspace, commandTimeoutMS, outputLimitBytes int, log *zap.Logger) *ExecuteTool {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecuteTool{
		ws:               ws,
		commandTimeoutMS: commandTimeoutMS,
		outputLimitBytes: outputLimitBytes,
		log:              log,
	}
}

func (t *ExecuteTool) Name() string {
	return "execute"
}

func (t *ExecuteTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Run a shell command. cwd is relative to the workspace root and defaults to it.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string"},
					"cwd":     map[string]any{"type": "string"},
				},
				"required": []string{"command"},
			},
		},
	}
}

// Risk flags commands that must be confirmed every time, cached approval or not.
func (t *ExecuteTool) Risk(args json.RawMessage) string {
	in, err := parseExecuteArgs(args)
	if err != nil {
		return ""
	}
	if risk := t.ws.CommandRisk(in.Command, in.Cwd); risk.RequireApproval {
		return risk.String()
	}
	return ""
}

func (t *ExecuteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	in, err := parseExecuteArgs(args)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", toolerr.New(toolerr.KindInvalidArgument, t.Name(), "command is empty")
	}
	dir, err := t.ws.Resolve(t.Name(), in.Cwd)
	if err != nil {
		return "", err
	}

	timeout := time.Duration(t.commandTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-lc", in.Command)
	cmd.Dir = dir
	setupProcessGroup(cmd)
	cmd.WaitDelay = pipeWaitDelay

	stdout := newCappedBuffer(t.outputLimitBytes)
	stderr := newCappedBuffer(t.outputLimitBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err = cmd.Run()
	dur := time.Since(start)

	exitCode := 0
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			t.log.Warn("execute timed out", zap.String("command", in.Command), zap.Duration("timeout", timeout))
			return "", &toolerr.Error{
				Kind: toolerr.KindTimeout,
				Op:   t.Name(),
				Msg:  fmt.Sprintf("command timed out after %s", timeout),
				Err:  execCtx.Err(),
			}
		}
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return "", toolerr.Wrap(toolerr.KindIOFailure, t.Name(), fmt.Errorf("run command: %w", err))
		}
		exitCode = ee.ExitCode()
	}

	return mustJSON(map[string]any{
		"ok":          exitCode == 0,
		"command":     in.Command,
		"cwd":         dir,
		"exit_code":   exitCode,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"truncated":   stdout.truncated || stderr.truncated,
		"duration_ms": dur.Milliseconds(),
	}), nil
}

type executeArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

func parseExecuteArgs(args json.RawMessage) (executeArgs, error) {
	var in executeArgs
	if err := decodeArgs("execute", args, &in); err != nil {
		return executeArgs{}, err
	}
	return in, nil
}

type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = 1 << 20
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.truncated {
		return len(p), nil
	}
	remain := b.max - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remain {
		_, _ = b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	_, err := b.buf.Write(p)
	return len(p), err
}

func (b *cappedBuffer) String() string {
	if !b.truncated {
		return b.buf.String()
	}
	var out bytes.Buffer
	_, _ = io.Copy(&out, bytes.NewReader(b.buf.Bytes()))
	out.WriteString("\n[output truncated]")
	return out.String()
}
