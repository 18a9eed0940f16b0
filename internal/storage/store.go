package storage

import (
	"deepagent/internal/todo"
)

// Store 持久化接口
// Store persists sessions across runs: metadata, the latest checkpoint of each
// session, the mirrored todo list and the approval decision log.
type Store interface {
	// Session 操作 / Session operations
	CreateSession(meta SessionMeta) error
	TouchSession(id, summary string) error
	LoadSession(id string) (SessionMeta, error)
	ListSessions() ([]SessionMeta, error)

	// Checkpoint 操作 / Checkpoint operations
	SaveCheckpoint(sessionID string, step int, data []byte) error
	LatestCheckpoint(sessionID string) (CheckpointRecord, error)

	// Todo 操作 / Todo operations
	ListTodos(sessionID string) ([]todo.Item, error)
	ReplaceTodos(sessionID string, items []todo.Item) error

	// 审批日志 / Approval log
	LogApproval(entry ApprovalEntry) error
	ListApprovals(sessionID string) ([]ApprovalEntry, error)

	// 生命周期 / Lifecycle
	Close() error
}
