package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/internal/approval"
	"deepagent/internal/chat"
	"deepagent/internal/fsstore"
	"deepagent/internal/todo"
)

func newTestSession(t *testing.T, files fsstore.Files) *State {
	t.Helper()
	s := New("sess_test", fsstore.NewVirtualStore(files), approval.NewCache("write_file:/work"))
	s.Append(chat.Message{Role: "user", Content: "build it"})
	_, err := s.Todos.Replace([]todo.Item{{Content: "plan", Status: todo.StatusInProgress}})
	require.NoError(t, err)
	return s
}

func TestForkIsolatesChild(t *testing.T) {
	parent := newTestSession(t, fsstore.Files{"a.txt": "parent"})
	child := parent.Fork("sess_child", "general-purpose", "write docs")

	assert.Equal(t, []chat.Message{{Role: "user", Content: "write docs"}}, child.Messages())
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, parent.Todos.Items(), child.Todos.Items())
	assert.True(t, child.Approvals.Has("write_file:/work"))

	require.NoError(t, child.Store.Write("a.txt", "child"))
	require.NoError(t, child.Store.Write("b.txt", "new"))
	child.Commit()
	child.Approvals.Add("execute:/work")
	_, err := child.Todos.Replace(nil)
	require.NoError(t, err)

	got, err := parent.Store.Read("a.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "     1\tparent", got)
	assert.False(t, parent.Approvals.Has("execute:/work"))
	assert.Len(t, parent.Todos.Items(), 1)

	merged := parent.MergeChild(child)
	assert.Equal(t, []string{"a.txt", "b.txt"}, merged)
	parent.Commit()
	vs, ok := parent.Virtual()
	require.True(t, ok)
	assert.Equal(t, fsstore.Files{"a.txt": "child", "b.txt": "new"}, vs.Committed())
}

func TestMergeOnlyChangedPaths(t *testing.T) {
	parent := newTestSession(t, fsstore.Files{"keep.txt": "v1"})
	child := parent.Fork("c", "general-purpose", "task")

	// Parent moves on while the child runs; the untouched path must survive.
	require.NoError(t, parent.Store.Write("keep.txt", "v2"))
	parent.Commit()

	require.NoError(t, child.Store.Write("other.txt", "x"))
	child.Commit()
	parent.MergeChild(child)
	parent.Commit()

	vs, _ := parent.Virtual()
	assert.Equal(t, "v2", vs.Committed()["keep.txt"])
	assert.Equal(t, "x", vs.Committed()["other.txt"])
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestSession(t, fsstore.Files{"a.txt": "hello"})
	s.Append(chat.Message{Role: "assistant", Content: "done"})

	data, err := s.Checkpoint().Marshal()
	require.NoError(t, err)
	cp, err := UnmarshalCheckpoint(data)
	require.NoError(t, err)

	restored, err := Restore("sess_test", cp, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Messages(), restored.Messages())
	assert.Equal(t, s.Todos.Items(), restored.Todos.Items())
	assert.True(t, restored.Approvals.Has("write_file:/work"))
	assert.Equal(t, "done", restored.LastAssistant())
	got, err := restored.Store.Read("a.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "     1\thello", got)
}

func TestRestoreRealNeedsStore(t *testing.T) {
	_, err := Restore("x", Checkpoint{Backend: fsstore.BackendReal}, nil)
	assert.Error(t, err)
	_, err = Restore("x", Checkpoint{Backend: "tape"}, nil)
	assert.Error(t, err)
}

func TestContextCarriesSession(t *testing.T) {
	s := newTestSession(t, nil)
	ctx := WithSession(context.Background(), s)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
