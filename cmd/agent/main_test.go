package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/internal/approval"
	"deepagent/internal/bootstrap"
	"deepagent/internal/config"
	"deepagent/internal/storage"
	"deepagent/internal/todo"
)

func TestResolveWorkspaceRoot(t *testing.T) {
	cfg := config.Default()

	root, err := resolveWorkspaceRoot("/tmp/foo", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/foo", root, "override wins")

	cfg.Runtime.WorkspaceRoot = "/from/config"
	root, err = resolveWorkspaceRoot("", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/from/config", root)

	cfg.Runtime.WorkspaceRoot = ""
	root, err = resolveWorkspaceRoot("", cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, root, "falls back to cwd")
}

func promptWith(t *testing.T, answers string) (approval.Response, string, error) {
	t.Helper()
	var out bytes.Buffer
	p := newTerminalPrompter(newBasicLineInput(strings.NewReader(answers), &out), &out)
	resp, err := p.Prompt(context.Background(), approval.Request{
		Question: "Allow write_file in /docs?",
		Kind:     "write_file",
		Args:     json.RawMessage(`{"file_path":"/docs/a.md","content":"hi\n"}`),
		Key:      "write_file:/docs",
	})
	return resp, out.String(), err
}

func TestTerminalPrompterAnswers(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	resp, out, err := promptWith(t, "y\n")
	require.NoError(t, err)
	assert.Equal(t, approval.ResponseAccept, resp.Type)
	assert.Contains(t, out, "Allow write_file in /docs?")
	assert.Contains(t, out, "key: write_file:/docs")
	assert.Contains(t, out, "+hi")

	resp, _, err = promptWith(t, "\n")
	require.NoError(t, err)
	assert.Equal(t, approval.ResponseReject, resp.Type, "default is no")

	resp, out, err = promptWith(t, "maybe\nn\n")
	require.NoError(t, err)
	assert.Equal(t, approval.ResponseReject, resp.Type)
	assert.Contains(t, out, "please answer y, e or n")

	resp, _, err = promptWith(t, "")
	require.NoError(t, err)
	assert.Equal(t, approval.ResponseReject, resp.Type, "EOF rejects")
}

func TestTerminalPrompterEdit(t *testing.T) {
	resp, out, err := promptWith(t, "e\n{broken\n{\"file_path\":\"/docs/b.md\",\"content\":\"x\"}\n")
	require.NoError(t, err)
	assert.Equal(t, approval.ResponseEdit, resp.Type)
	assert.JSONEq(t, `{"file_path":"/docs/b.md","content":"x"}`, string(resp.Args))
	assert.Contains(t, out, "not valid JSON")

	resp, _, err = promptWith(t, "e\n\n")
	require.NoError(t, err)
	assert.Equal(t, approval.ResponseReject, resp.Type, "empty edit rejects")
}

type blockingInput struct{ release chan struct{} }

func (b blockingInput) ReadLine(string) (string, error) {
	<-b.release
	return "", io.EOF
}

func (b blockingInput) Close() error { return nil }

func TestTerminalPrompterTimeout(t *testing.T) {
	in := blockingInput{release: make(chan struct{})}
	defer close(in.release)
	p := newTerminalPrompter(in, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Prompt(ctx, approval.Request{Kind: "execute", Args: json.RawMessage(`{"command":"ls"}`)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type queuedInput struct {
	lines chan string
	reads atomic.Int32
}

func (q *queuedInput) ReadLine(string) (string, error) {
	q.reads.Add(1)
	line, ok := <-q.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func (q *queuedInput) Close() error { return nil }

func TestTerminalPrompterResumesPendingRead(t *testing.T) {
	in := &queuedInput{lines: make(chan string, 1)}
	var out bytes.Buffer
	shared := newSharedInput(in, &out)
	p := newTerminalPrompter(shared, &out)
	req := approval.Request{Kind: "execute", Args: json.RawMessage(`{"command":"ls"}`), Key: "execute:/w"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Prompt(ctx, req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out.String(), "no answer in time")

	in.lines <- "y"
	resp, err := p.Prompt(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, approval.ResponseAccept, resp.Type)
	assert.Equal(t, int32(1), in.reads.Load(), "the timed-out read answers the next prompt")

	// REPL 与审批共享同一个读取
	in.lines <- "hello"
	line, err := shared.ReadLine("> ")
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
	assert.Equal(t, int32(2), in.reads.Load())
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.BaseDir = filepath.Join(t.TempDir(), "state")
	res, err := bootstrap.Build(cfg, bootstrap.Options{WorkspaceRoot: t.TempDir()})
	require.NoError(t, err)
	a := &app{cfg: cfg, res: res}
	t.Cleanup(a.close)
	return a
}

func TestHandleCommand(t *testing.T) {
	a := newTestApp(t)
	st := a.res.Session
	require.NoError(t, st.Store.Write("/plan.md", "steps"))
	st.Commit()
	_, err := st.Todos.Replace([]todo.Item{
		{Content: "outline", Status: todo.StatusCompleted},
		{Content: "draft", Status: todo.StatusInProgress},
	})
	require.NoError(t, err)

	run := func(cmd string) (string, bool, bool) {
		var out bytes.Buffer
		handled, exit := a.handleCommand(cmd, &out)
		return out.String(), handled, exit
	}

	out, handled, _ := run("/todo")
	assert.True(t, handled)
	assert.Equal(t, "[x] outline\n[~] draft\n", out)

	out, _, _ = run("/files")
	assert.Equal(t, "/plan.md  (5 bytes)\n", out)

	out, _, _ = run("/tools")
	assert.Contains(t, out, "write_todos")

	out, _, _ = run("/agents")
	assert.Contains(t, out, "general-purpose")

	out, _, _ = run("/context")
	assert.Contains(t, out, "context: ")
	assert.Contains(t, out, "counter=")

	_, handled, exit := run("/exit")
	assert.True(t, handled)
	assert.True(t, exit)

	_, handled, _ = run("/unknown")
	assert.False(t, handled, "unknown commands go to the agent")
}

func TestListSessions(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), storage.DBFileName))
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, listSessions(store, &out))
	assert.Equal(t, "no sessions\n", out.String())

	require.NoError(t, store.CreateSession(storage.SessionMeta{ID: "sess_a", Backend: config.BackendVirtual}))
	require.NoError(t, store.TouchSession("sess_a", "write a report"))
	out.Reset()
	require.NoError(t, listSessions(store, &out))
	assert.Contains(t, out.String(), "sess_a  backend=virtual")
	assert.Contains(t, out.String(), `"write a report"`)
}

func TestRunInitWritesProjectConfig(t *testing.T) {
	dir := t.TempDir()
	workspace = dir
	t.Cleanup(func() { workspace = "" })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runInit(cmd, nil))
	path := filepath.Join(dir, ".deepagent", "config.json")
	assert.Equal(t, "project config: "+path+"\n", out.String())
	assert.FileExists(t, path)
}

func TestRenderAnswerPlain(t *testing.T) {
	assert.Equal(t, "# Title", renderAnswer("  # Title\n", false))
	assert.Equal(t, "", renderAnswer("   ", true))
}
