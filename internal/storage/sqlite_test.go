package storage

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/internal/approval"
	"deepagent/internal/todo"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), DBFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	assert.Regexp(t, regexp.MustCompile(`^sess_[0-9a-f-]{36}$`), id)
	assert.NotEqual(t, id, NewSessionID())
}

func TestSessionCRUD(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(SessionMeta{ID: "sess_a", Title: "fix tests", Backend: "virtual", Model: "m"}))
	require.NoError(t, store.CreateSession(SessionMeta{ID: "sess_b", Backend: "real"}))

	loaded, err := store.LoadSession("sess_a")
	require.NoError(t, err)
	assert.Equal(t, "fix tests", loaded.Title)
	assert.Equal(t, "virtual", loaded.Backend)
	assert.NotEmpty(t, loaded.CreatedAt)

	require.NoError(t, store.TouchSession("sess_a", "wrote 3 files"))
	loaded, err = store.LoadSession("sess_a")
	require.NoError(t, err)
	assert.Equal(t, "wrote 3 files", loaded.Summary)

	metas, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "sess_a", metas[0].ID, "most recently updated first")

	_, err = store.LoadSession("sess_missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCheckpointsKeepLatest(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(SessionMeta{ID: "s1"}))

	_, err := store.LatestCheckpoint("s1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveCheckpoint("s1", 1, []byte(`{"step":1}`)))
	require.NoError(t, store.SaveCheckpoint("s1", 2, []byte(`{"step":2}`)))

	rec, err := store.LatestCheckpoint("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Step)
	assert.JSONEq(t, `{"step":2}`, string(rec.Data))

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE session_id='s1'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestTodoSinkReplacesWholesale(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateSession(SessionMeta{ID: "s1"}))

	ledger := todo.NewLedger(nil)
	ledger.SetSink(TodoSink{Store: store, SessionID: "s1"})

	_, err := ledger.Replace([]todo.Item{
		{Content: "write parser", Status: todo.StatusInProgress},
		{Content: "write parser", Status: "bogus"},
	})
	require.NoError(t, err)
	items, err := store.ListTodos("s1")
	require.NoError(t, err)
	assert.Equal(t, []todo.Item{
		{Content: "write parser", Status: todo.StatusInProgress},
		{Content: "write parser", Status: todo.StatusPending},
	}, items)

	_, err = ledger.Replace(nil)
	require.NoError(t, err)
	items, err = store.ListTodos("s1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestApprovalJournal(t *testing.T) {
	store := newTestStore(t)
	j := ApprovalJournal{Store: store, SessionID: "s1"}
	require.NoError(t, j.RecordApproval(approval.Decision{Key: "execute:/w", Kind: "execute", Type: approval.ResponseAccept, Source: "human"}))
	require.NoError(t, j.RecordApproval(approval.Decision{Key: "execute:/w", Kind: "execute", Type: approval.ResponseAccept, Source: "cache"}))

	entries, err := store.ListApprovals("s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "accept", entries[0].Decision)
	assert.Equal(t, "human", entries[0].Source)
	assert.Equal(t, "cache", entries[1].Source)
}
