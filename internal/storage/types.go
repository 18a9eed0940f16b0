package storage

import "errors"

// ErrNotFound is returned when a session or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// SessionMeta 会话元数据
// SessionMeta holds session metadata
type SessionMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Backend   string `json:"backend"`
	Model     string `json:"model"`
	CWD       string `json:"cwd"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CheckpointRecord is one persisted session snapshot.
type CheckpointRecord struct {
	SessionID string
	Step      int
	Data      []byte
	CreatedAt string
}

// ApprovalEntry 审批决策日志条目
// ApprovalEntry records one gate decision.
type ApprovalEntry struct {
	SessionID string
	Key       string
	Kind      string
	Decision  string
	Source    string
	CreatedAt string
}
