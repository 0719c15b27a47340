package agents

import (
	"sync"
	"time"

	"github.com/goccy/go-yaml"
)

type EntryKind string

const (
	EntryToolCall    EntryKind = "tool_call"
	EntryMCPApproval EntryKind = "mcp_approval"
	EntryTranscript  EntryKind = "transcript"
	EntryError       EntryKind = "error"
	EntryConnection  EntryKind = "connection"
)

type Entry struct {
	Time      time.Time `yaml:"time"`
	Kind      EntryKind `yaml:"kind"`
	Tool      string    `yaml:"tool,omitempty"`
	CallID    string    `yaml:"call_id,omitempty"`
	Arguments string    `yaml:"arguments,omitempty"`
	Success   bool      `yaml:"success"`
	Message   string    `yaml:"message,omitempty"`
}

// EventLog keeps the most recent entries. Older ones are evicted first.
type EventLog struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	now     func() time.Time
}

func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = 256
	}
	return &EventLog{limit: limit, now: time.Now}
}

func (l *EventLog) Append(e Entry) {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, e)
}

func (l *EventLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// YAML dumps the log oldest first.
func (l *EventLog) YAML() ([]byte, error) {
	return yaml.Marshal(l.Entries())
}
