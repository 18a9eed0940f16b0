package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/internal/toolerr"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestWorkspaceResolveClassifiesEscapes(t *testing.T) {
	ws := newTestWorkspace(t)

	_, err := ws.Resolve("read_file", "../outside.txt")
	require.Error(t, err)
	assert.Equal(t, toolerr.KindInvalidArgument, toolerr.KindOf(err))
	assert.True(t, errors.Is(err, ErrPathOutsideWorkspace))
	assert.Contains(t, err.Error(), "'../outside.txt' is outside the workspace")

	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(ws.Root(), "escape")); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	_, err = ws.Resolve("write_file", "escape/file.txt")
	assert.Equal(t, toolerr.KindInvalidArgument, toolerr.KindOf(err))
}

func TestWorkspaceResolveInside(t *testing.T) {
	ws := newTestWorkspace(t)

	got, err := ws.Resolve("write_file", "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", ws.Rel(got))

	got, err = ws.Resolve("ls", "")
	require.NoError(t, err)
	assert.Equal(t, ws.Root(), got)
	assert.Equal(t, "", ws.Rel(got))
}

func TestAnalyzeCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("x"), 0o644))

	tests := []struct {
		name   string
		cmd    string
		reason string
	}{
		{name: "safe", cmd: "ls -la"},
		{name: "empty", cmd: "   "},
		{name: "dangerous rm", cmd: "rm -rf build", reason: ReasonDangerous},
		{name: "rm after separator", cmd: "cd x;rm y", reason: ReasonDangerous},
		{name: "rm inside word", cmd: "echo firmware", reason: ""},
		{name: "parse failure", cmd: `echo "abc`, reason: ReasonUnparsable},
		{name: "dangling escape", cmd: `echo abc\`, reason: ReasonUnparsable},
		{name: "command substitution", cmd: "echo $(cat secret.txt)", reason: ReasonSubstitution},
		{name: "backticks", cmd: "echo `id`", reason: ReasonSubstitution},
		{name: "redirect to new file", cmd: "echo hi > new.txt"},
		{name: "redirect to dev null", cmd: "make 2>/dev/null"},
		{name: "redirect clobbers file", cmd: "echo hi > out.txt", reason: ReasonOverwrite},
		{name: "append is fine", cmd: "echo hi >> out.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeCommand(tt.cmd, dir)
			assert.Equal(t, tt.reason != "", got.RequireApproval)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestWorkspaceCommandRiskUsesCwd(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(ws.Root(), "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "sub", "log.txt"), []byte("x"), 0o644))

	assert.False(t, ws.CommandRisk("date > log.txt", "").RequireApproval)

	risk := ws.CommandRisk("date > log.txt", "sub")
	require.True(t, risk.RequireApproval)
	assert.Equal(t, filepath.Join(ws.Root(), "sub", "log.txt"), risk.Target)
	assert.Equal(t, ReasonOverwrite+": "+risk.Target, risk.String())
}

func TestSplitWords(t *testing.T) {
	words, err := splitWords(`git commit -m "two words" '' x\ y`)
	require.NoError(t, err)
	assert.Equal(t, []string{"git", "commit", "-m", "two words", "", "x y"}, words)
}
