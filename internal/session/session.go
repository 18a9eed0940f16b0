package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"deepagent/internal/approval"
	"deepagent/internal/chat"
	"deepagent/internal/fsstore"
	"deepagent/internal/todo"
)

// State is everything one agent session owns: its conversation, plan, file
// namespace and approvals.
type State struct {
	ID        string
	Agent     string
	Depth     int
	Store     fsstore.Store
	Todos     *todo.Ledger
	Approvals *approval.Cache

	mu       sync.Mutex
	messages []chat.Message
}

func New(id string, store fsstore.Store, approvals *approval.Cache) *State {
	if approvals == nil {
		approvals = approval.NewCache()
	}
	return &State{
		ID:        id,
		Agent:     "main",
		Store:     store,
		Todos:     todo.NewLedger(nil),
		Approvals: approvals,
	}
}

func (s *State) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *State) Append(msgs ...chat.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

func (s *State) SetMessages(msgs []chat.Message) {
	s.mu.Lock()
	s.messages = append([]chat.Message(nil), msgs...)
	s.mu.Unlock()
}

// LastAssistant returns the content of the most recent assistant message.
func (s *State) LastAssistant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == "assistant" {
			return s.messages[i].Content
		}
	}
	return ""
}

// Virtual returns the in-memory store when the session uses one.
func (s *State) Virtual() (*fsstore.VirtualStore, bool) {
	vs, ok := s.Store.(*fsstore.VirtualStore)
	return vs, ok
}

// Commit publishes staged file writes at the end of a step.
func (s *State) Commit() []string {
	if vs, ok := s.Virtual(); ok {
		return vs.Commit()
	}
	return nil
}

// Discard drops staged file writes after a cancelled step.
func (s *State) Discard() {
	if vs, ok := s.Virtual(); ok {
		vs.Discard()
	}
}

// Fork creates a child session for a delegated task. The child starts from a
// private copy of the files and todos, reads through to the parent's approvals
// without being able to add to them, and sees only the task description.
func (s *State) Fork(id, agent, description string) *State {
	child := &State{
		ID:        id,
		Agent:     agent,
		Depth:     s.Depth + 1,
		Todos:     todo.NewLedger(s.Todos.Items()),
		Approvals: s.Approvals.View(),
		messages:  []chat.Message{{Role: "user", Content: description}},
	}
	if vs, ok := s.Virtual(); ok {
		child.Store = fsstore.NewVirtualStore(vs.Snapshot())
	} else {
		child.Store = s.Store
	}
	return child
}

// MergeChild folds the files the child changed back into s, whole content per
// path. It returns the merged paths. Children on the real backend already wrote
// through to disk, so there is nothing to merge.
func (s *State) MergeChild(child *State) []string {
	parent, ok := s.Virtual()
	if !ok {
		return nil
	}
	cv, ok := child.Virtual()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return parent.Merge(cv.Changes())
}

// Checkpoint is the persisted form of a session.
type Checkpoint struct {
	Backend            string         `json:"backend"`
	Messages           []chat.Message `json:"messages"`
	Todos              []todo.Item    `json:"todos"`
	Files              fsstore.Files  `json:"files,omitempty"`
	ApprovedOperations []string       `json:"approved_operations"`
}

func (s *State) Checkpoint() Checkpoint {
	cp := Checkpoint{
		Backend:            s.Store.Backend(),
		Messages:           s.Messages(),
		Todos:              s.Todos.Items(),
		ApprovedOperations: s.Approvals.Keys(),
	}
	if vs, ok := s.Virtual(); ok {
		cp.Files = vs.Committed()
	}
	return cp
}

func (cp Checkpoint) Marshal() ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

func UnmarshalCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// Restore rebuilds a session from a checkpoint. real is used when the
// checkpoint was taken on the real backend.
func Restore(id string, cp Checkpoint, real fsstore.Store) (*State, error) {
	var store fsstore.Store
	switch cp.Backend {
	case fsstore.BackendVirtual, "":
		store = fsstore.NewVirtualStore(cp.Files.Clone())
	case fsstore.BackendReal:
		if real == nil {
			return nil, fmt.Errorf("restore session %s: real backend unavailable", id)
		}
		store = real
	default:
		return nil, fmt.Errorf("restore session %s: unknown backend %q", id, cp.Backend)
	}
	s := New(id, store, approval.NewCache(cp.ApprovedOperations...))
	s.Todos = todo.NewLedger(cp.Todos)
	s.SetMessages(cp.Messages)
	return s, nil
}

type sessionContextKey struct{}

func WithSession(ctx context.Context, s *State) context.Context {
	if ctx == nil || s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, s)
}

func FromContext(ctx context.Context) (*State, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(*State)
	return s, ok && s != nil
}
