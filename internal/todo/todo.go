package todo

import (
	"encoding/json"
	"strings"
	"sync"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type Item struct {
	Content string `json:"content"`
	Status  Status `json:"status"`
}

// Sink mirrors every replacement somewhere durable.
type Sink interface {
	SaveTodos(items []Item) error
}

// Ledger holds the agent's plan. Writes replace the whole list; items carry no
// identity and are never merged.
type Ledger struct {
	mu    sync.RWMutex
	items []Item
	sink  Sink
}

func NewLedger(items []Item) *Ledger {
	return &Ledger{items: Clone(items)}
}

// SetSink installs a mirror for subsequent replacements. A nil sink disables it.
func (l *Ledger) SetSink(s Sink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

func (l *Ledger) Items() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Clone(l.items)
}

// Replace swaps in items and returns the confirmation handed back to the model.
// More than one in_progress item is accepted as is.
func (l *Ledger) Replace(items []Item) (string, error) {
	normalized := make([]Item, 0, len(items))
	for _, it := range items {
		normalized = append(normalized, Item{
			Content: it.Content,
			Status:  NormalizeStatus(string(it.Status)),
		})
	}

	l.mu.Lock()
	l.items = normalized
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.SaveTodos(Clone(normalized)); err != nil {
			return "", err
		}
	}
	return Confirmation(normalized), nil
}

func Confirmation(items []Item) string {
	if items == nil {
		items = []Item{}
	}
	data, _ := json.Marshal(items)
	return "Updated todo list to " + string(data)
}

// NormalizeStatus lower-cases s; anything unrecognised becomes pending.
func NormalizeStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusInProgress:
		return StatusInProgress
	case StatusCompleted:
		return StatusCompleted
	default:
		return StatusPending
	}
}

func Clone(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
