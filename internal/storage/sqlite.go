package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"deepagent/internal/todo"
)

// DBFileName is the database file created under the storage base dir.
const DBFileName = "deepagent.db"

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		backend    TEXT NOT NULL DEFAULT 'virtual',
		model      TEXT NOT NULL DEFAULT '',
		cwd        TEXT NOT NULL DEFAULT '',
		summary    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		step       INTEGER NOT NULL,
		data       BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS todos (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		content    TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		updated_at TEXT NOT NULL,
		PRIMARY KEY(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS approval_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		key        TEXT NOT NULL,
		kind       TEXT NOT NULL,
		decision   TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_approval_log_session ON approval_log(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Session Operations ---

func (s *SQLiteStore) CreateSession(meta SessionMeta) error {
	now := nowUTC()
	if strings.TrimSpace(meta.CreatedAt) == "" {
		meta.CreatedAt = now
	}
	if strings.TrimSpace(meta.UpdatedAt) == "" {
		meta.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, title, backend, model, cwd, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Title, meta.Backend, meta.Model, meta.CWD, meta.Summary,
		meta.CreatedAt, meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// TouchSession bumps updated_at and, when summary is non-empty, replaces it.
func (s *SQLiteStore) TouchSession(id, summary string) error {
	var err error
	if strings.TrimSpace(summary) == "" {
		_, err = s.db.Exec(`UPDATE sessions SET updated_at=? WHERE id=?`, nowUTC(), id)
	} else {
		_, err = s.db.Exec(`UPDATE sessions SET summary=?, updated_at=? WHERE id=?`, summary, nowUTC(), id)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(id string) (SessionMeta, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionMeta{}, fmt.Errorf("session id is empty")
	}
	row := s.db.QueryRow(`
		SELECT id, title, backend, model, cwd, summary, created_at, updated_at
		FROM sessions WHERE id=?`, id)
	var meta SessionMeta
	err := row.Scan(&meta.ID, &meta.Title, &meta.Backend, &meta.Model, &meta.CWD,
		&meta.Summary, &meta.CreatedAt, &meta.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionMeta{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return SessionMeta{}, fmt.Errorf("load session: %w", err)
	}
	return meta, nil
}

func (s *SQLiteStore) ListSessions() ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, title, backend, model, cwd, summary, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var metas []SessionMeta
	for rows.Next() {
		var meta SessionMeta
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Backend, &meta.Model, &meta.CWD,
			&meta.Summary, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// --- Checkpoint Operations ---

func (s *SQLiteStore) SaveCheckpoint(sessionID string, step int, data []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	if _, err := tx.Exec(`
		INSERT INTO checkpoints (session_id, step, data, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, step, data, now); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	// 只保留最新的检查点 / Keep only the newest checkpoint per session
	if _, err := tx.Exec(`
		DELETE FROM checkpoints WHERE session_id=? AND id < (SELECT MAX(id) FROM checkpoints WHERE session_id=?)`,
		sessionID, sessionID); err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	if _, err := tx.Exec("UPDATE sessions SET updated_at=? WHERE id=?", now, sessionID); err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LatestCheckpoint(sessionID string) (CheckpointRecord, error) {
	row := s.db.QueryRow(`
		SELECT session_id, step, data, created_at FROM checkpoints
		WHERE session_id=? ORDER BY id DESC LIMIT 1`, sessionID)
	var rec CheckpointRecord
	if err := row.Scan(&rec.SessionID, &rec.Step, &rec.Data, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CheckpointRecord{}, fmt.Errorf("checkpoint for %s: %w", sessionID, ErrNotFound)
		}
		return CheckpointRecord{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return rec, nil
}

// --- Todo Operations ---

func (s *SQLiteStore) ListTodos(sessionID string) ([]todo.Item, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	rows, err := s.db.Query(`SELECT content, status FROM todos WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	items := []todo.Item{}
	for rows.Next() {
		var item todo.Item
		var status string
		if err := rows.Scan(&item.Content, &status); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		item.Status = todo.NormalizeStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReplaceTodos stores the list verbatim, in order. Items have no identity, so
// the row key is the position.
func (s *SQLiteStore) ReplaceTodos(sessionID string, items []todo.Item) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM todos WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete old todos: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO todos (session_id, seq, content, status, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for i, item := range items {
		if _, err := stmt.Exec(sessionID, i, item.Content, string(todo.NormalizeStatus(string(item.Status))), now); err != nil {
			return fmt.Errorf("insert todo %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// --- Approval Log ---

func (s *SQLiteStore) LogApproval(entry ApprovalEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO approval_log (session_id, key, kind, decision, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Key, entry.Kind, entry.Decision, entry.Source, nowUTC())
	if err != nil {
		return fmt.Errorf("log approval: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListApprovals(sessionID string) ([]ApprovalEntry, error) {
	rows, err := s.db.Query(`
		SELECT session_id, key, kind, decision, source, created_at
		FROM approval_log WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query approval log: %w", err)
	}
	defer rows.Close()

	var out []ApprovalEntry
	for rows.Next() {
		var e ApprovalEntry
		if err := rows.Scan(&e.SessionID, &e.Key, &e.Kind, &e.Decision, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Helpers ---

// timeLayout has fixed-width fractional seconds so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowUTC() string {
	return time.Now().UTC().Format(timeLayout)
}
