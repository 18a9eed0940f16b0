package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/internal/approval"
	"deepagent/internal/fsstore"
	"deepagent/internal/security"
	"deepagent/internal/session"
	"deepagent/internal/toolerr"
)

func newTestContext(t *testing.T, files fsstore.Files) (context.Context, *session.State) {
	t.Helper()
	st := session.New("sess_test", fsstore.NewVirtualStore(files), approval.NewCache())
	return session.WithSession(context.Background(), st), st
}

func run(t *testing.T, ctx context.Context, tool Tool, args string) map[string]any {
	t.Helper()
	raw, err := tool.Execute(ctx, json.RawMessage(args))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestFileToolsOnVirtualStore(t *testing.T) {
	ctx, st := newTestContext(t, nil)

	out := run(t, ctx, NewWriteTool(), `{"file_path":"/notes/a.md","content":"alpha\nbeta\n"}`)
	assert.Equal(t, true, out["ok"])

	out = run(t, ctx, NewReadTool(), `{"file_path":"/notes/a.md"}`)
	assert.Equal(t, "     1\talpha\n     2\tbeta", out["content"])

	out = run(t, ctx, NewEditTool(), `{"file_path":"/notes/a.md","old_string":"beta","new_string":"gamma"}`)
	assert.Equal(t, float64(1), out["replacements"])

	out = run(t, ctx, NewListTool(), `{"path":"/notes"}`)
	assert.Equal(t, []any{"/notes/a.md"}, out["entries"])

	st.Commit()
	vs, _ := st.Virtual()
	assert.Equal(t, "alpha\ngamma\n", vs.Committed()["/notes/a.md"])
}

func TestToolErrorsAreClassified(t *testing.T) {
	ctx, _ := newTestContext(t, fsstore.Files{"a.txt": "x x"})

	_, err := NewReadTool().Execute(ctx, json.RawMessage(`{"file_path":"missing"}`))
	assert.Equal(t, toolerr.KindNotFound, toolerr.KindOf(err))

	_, err = NewEditTool().Execute(ctx, json.RawMessage(`{"file_path":"a.txt","old_string":"x","new_string":"y"}`))
	assert.Equal(t, toolerr.KindAmbiguousTarget, toolerr.KindOf(err))

	_, err = NewWriteTool().Execute(ctx, json.RawMessage(`{"file_path":`))
	assert.Equal(t, toolerr.KindInvalidArgument, toolerr.KindOf(err))

	msg := ErrorResult(err)
	assert.Contains(t, msg, `"ok":false`)
	assert.Contains(t, msg, `"kind":"invalid_argument"`)

	_, err = NewReadTool().Execute(context.Background(), json.RawMessage(`{"file_path":"a.txt"}`))
	assert.Equal(t, toolerr.KindInternal, toolerr.KindOf(err))
}

func TestGlobAndGrepTools(t *testing.T) {
	ctx, _ := newTestContext(t, fsstore.Files{
		"src/a.py":     "import os\n",
		"src/pkg/b.py": "IMPORT sys\n",
		"src/c.go":     "package c\n",
	})

	out := run(t, ctx, NewGlobTool(), `{"pattern":"*.py"}`)
	assert.Equal(t, []any{"src/a.py", "src/pkg/b.py"}, out["matches"])

	out = run(t, ctx, NewGlobTool(), `{"pattern":"*.py","path":"src","recursive":false}`)
	assert.Equal(t, []any{"src/a.py"}, out["matches"])

	out = run(t, ctx, NewGrepTool(), `{"pattern":"import","file_pattern":"*.py"}`)
	assert.Equal(t, float64(2), out["total"])

	out = run(t, ctx, NewGrepTool(), `{"pattern":"import","files":"src/a.py","case_sensitive":true}`)
	assert.Equal(t, float64(1), out["total"])

	out = run(t, ctx, NewGrepTool(), `{"pattern":"(","regex":true}`)
	assert.Equal(t, "invalid_pattern", out["status"])
	assert.True(t, strings.HasPrefix(out["result"].(string), "Invalid regex pattern"))
}

func TestWriteTodosReplacesList(t *testing.T) {
	ctx, st := newTestContext(t, nil)
	out := run(t, ctx, NewTodoWriteTool(), `{"todos":[{"content":"a","status":"in_progress"},{"content":"b","status":"in_progress"}]}`)
	assert.Equal(t, float64(2), out["count"])
	assert.True(t, strings.HasPrefix(out["message"].(string), "Updated todo list to ["))
	assert.Len(t, st.Todos.Items(), 2)
}

type fakeDelegator struct {
	gotType string
	err     error
}

func (f *fakeDelegator) Delegate(_ context.Context, parent *session.State, description, agentType string) (string, error) {
	f.gotType = agentType
	if f.err != nil {
		return "", f.err
	}
	return "done: " + description + " for " + parent.ID, nil
}

func TestTaskTool(t *testing.T) {
	ctx, _ := newTestContext(t, nil)
	d := &fakeDelegator{}
	tool := NewTaskTool(nil)

	_, err := tool.Execute(ctx, json.RawMessage(`{"description":"x","subagent_type":"general-purpose"}`))
	assert.Error(t, err)

	tool.SetDelegator(d)
	tool.SetCatalogue("- general-purpose: anything")
	assert.Contains(t, tool.Definition().Function.Description, "- general-purpose: anything")

	out := run(t, ctx, tool, `{"description":"summarize","subagent_type":"general-purpose"}`)
	assert.Equal(t, "done: summarize for sess_test", out["result"])
	assert.Equal(t, "general-purpose", d.gotType)

	d.err = &toolerr.Error{Kind: toolerr.KindUnknownAgentType, Op: "task", Msg: "invoked agent of type nope"}
	_, err = tool.Execute(ctx, json.RawMessage(`{"description":"x","subagent_type":"nope"}`))
	assert.Equal(t, toolerr.KindUnknownAgentType, toolerr.KindOf(err))
}

func TestRegistrySubset(t *testing.T) {
	all := NewRegistry(NewReadTool(), NewWriteTool(), NewTodoWriteTool())
	sub, err := all.Subset([]string{"read_file"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file"}, sub.Names())
	assert.False(t, sub.Has("write_file"))

	_, err = all.Subset([]string{"read_file", "teleport"})
	assert.EqualError(t, err, "unknown tool: teleport")

	_, err = sub.Execute(context.Background(), "write_file", nil)
	assert.EqualError(t, err, "unknown tool: write_file")
}

func newTestExecuteTool(t *testing.T, timeoutMS, limit int) (*ExecuteTool, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := security.NewWorkspace(root)
	require.NoError(t, err)
	return NewExecuteTool(ws, timeoutMS, limit, nil), ws.Root()
}

func TestExecuteToolRunsInCwd(t *testing.T) {
	tool, root := newTestExecuteTool(t, 5000, 4096)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))

	out := run(t, context.Background(), tool, `{"command":"pwd","cwd":"sub"}`)
	assert.Equal(t, true, out["ok"])
	assert.Contains(t, out["stdout"], "sub")

	small, _ := newTestExecuteTool(t, 5000, 32)
	out = run(t, context.Background(), small, `{"command":"printf 'hello world hello world hello world'"}`)
	assert.Contains(t, out["stdout"], "[output truncated]")

	out = run(t, context.Background(), tool, `{"command":"exit 3"}`)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, float64(3), out["exit_code"])

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"   "}`))
	assert.Equal(t, toolerr.KindInvalidArgument, toolerr.KindOf(err))

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"command":"ls","cwd":"../.."}`))
	assert.Equal(t, toolerr.KindInvalidArgument, toolerr.KindOf(err))
	assert.ErrorIs(t, err, security.ErrPathOutsideWorkspace)
}

func TestExecuteToolTimeout(t *testing.T) {
	tool, _ := newTestExecuteTool(t, 50, 0)
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"sleep 5"}`))
	require.Error(t, err)
	assert.Equal(t, toolerr.KindTimeout, toolerr.KindOf(err))
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestExecuteToolTimeoutKillsCompoundCommand(t *testing.T) {
	tool, _ := newTestExecuteTool(t, 100, 0)
	start := time.Now()
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"sleep 3; echo done"}`))
	require.Error(t, err)
	assert.Equal(t, toolerr.KindTimeout, toolerr.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteToolRisk(t *testing.T) {
	tool, root := newTestExecuteTool(t, 1000, 0)
	require.NoError(t, os.WriteFile(filepath.Join(root, "exists.txt"), []byte("x"), 0o644))

	assert.Empty(t, tool.Risk(json.RawMessage(`{"command":"ls -la"}`)))
	assert.Equal(t, "matches dangerous command policy", tool.Risk(json.RawMessage(`{"command":"rm -rf build"}`)))
	assert.Contains(t, tool.Risk(json.RawMessage(`{"command":"echo hi > exists.txt"}`)), "overwrite redirection")

	reg := NewRegistry(tool, NewReadTool())
	assert.NotEmpty(t, reg.Risk("execute", json.RawMessage(`{"command":"echo $(cat x)"}`)))
	assert.Empty(t, reg.Risk("read_file", json.RawMessage(`{}`)))
}

func TestCappedBufferWrite(t *testing.T) {
	b := newCappedBuffer(4)
	_, _ = b.Write([]byte("abcdef"))
	assert.True(t, b.truncated)
	assert.Equal(t, "abcd\n[output truncated]", b.String())
}
