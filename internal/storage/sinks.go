package storage

import (
	"deepagent/internal/approval"
	"deepagent/internal/todo"
)

// TodoSink mirrors a session's todo ledger into the store.
type TodoSink struct {
	Store     Store
	SessionID string
}

func (s TodoSink) SaveTodos(items []todo.Item) error {
	return s.Store.ReplaceTodos(s.SessionID, items)
}

// ApprovalJournal writes gate decisions to the approval log.
type ApprovalJournal struct {
	Store     Store
	SessionID string
}

func (j ApprovalJournal) RecordApproval(d approval.Decision) error {
	return j.Store.LogApproval(ApprovalEntry{
		SessionID: j.SessionID,
		Key:       d.Key,
		Kind:      d.Kind,
		Decision:  string(d.Type),
		Source:    d.Source,
	})
}

var (
	_ todo.Sink        = TodoSink{}
	_ approval.Journal = ApprovalJournal{}
)
