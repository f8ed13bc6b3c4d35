package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMissingConversation is returned by Append for events without a
// conversation id.
var ErrMissingConversation = errors.New("conversation_id is required")

// ErrInvalidConversation is returned for conversation ids that cannot name a
// journal file. Journal files must stay directly under the log root.
var ErrInvalidConversation = errors.New("conversation_id cannot contain path separators")

// Log is a durable event journal rooted at a directory, one JSONL file per
// conversation. Appends to the same conversation are serialized; appends to
// different conversations never contend.
type Log struct {
	root string

	mu       sync.Mutex
	journals map[string]*journal
}

// journal tracks per-conversation append state.
type journal struct {
	mu     sync.Mutex
	path   string
	lastTS time.Time
}

// New creates a Log writing journals under root, creating the directory if
// needed.
func New(root string) (*Log, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create log root: %w", err)
	}
	return &Log{root: root, journals: make(map[string]*journal)}, nil
}

// Append assigns the event an id and timestamp and durably appends it to its
// conversation's journal, returning the assigned id. The write is flushed to
// stable storage before Append returns.
func (l *Log) Append(ev Event) (string, error) {
	if ev.ConversationID == "" {
		return "", ErrMissingConversation
	}
	if strings.ContainsAny(ev.ConversationID, `/\`) {
		return "", fmt.Errorf("conversation %q: %w", ev.ConversationID, ErrInvalidConversation)
	}
	j := l.journal(ev.ConversationID)

	j.mu.Lock()
	defer j.mu.Unlock()

	ev.ID = "evt-" + uuid.NewString()
	if ev.Visibility == "" {
		ev.Visibility = VisibilityInternal
	}
	ev.Timestamp = time.Now().UTC()
	// Append order must equal timestamp order within a conversation.
	if ev.Timestamp.Before(j.lastTS) {
		ev.Timestamp = j.lastTS
	}
	j.lastTS = ev.Timestamp

	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open journal %s: %w", j.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync journal: %w", err)
	}
	return ev.ID, nil
}

// Tail returns the last limit events of a conversation in append order. A
// conversation without a journal yields an empty slice.
func (l *Log) Tail(conversationID string, limit int) ([]Event, error) {
	if strings.ContainsAny(conversationID, `/\`) {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, ErrInvalidConversation)
	}
	events, err := l.readJournal(l.journalPath(conversationID))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Since returns all events across every conversation with a timestamp at or
// after cutoff, sorted by timestamp ascending.
func (l *Log) Since(cutoff time.Time) ([]Event, error) {
	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, ev := range all {
		if !ev.Timestamp.Before(cutoff) {
			events = append(events, ev)
		}
	}
	sortByTimestamp(events)
	return events, nil
}

// ByType returns all events whose type is in types, across every
// conversation, sorted by timestamp ascending. A non-empty visibility
// restricts the result further.
func (l *Log) ByType(types []string, visibility string) ([]Event, error) {
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, ev := range all {
		if !wanted[ev.Type] {
			continue
		}
		if visibility != "" && ev.Visibility != visibility {
			continue
		}
		events = append(events, ev)
	}
	sortByTimestamp(events)
	return events, nil
}

func (l *Log) journal(conversationID string) *journal {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.journals[conversationID]
	if !ok {
		j = &journal{path: l.journalPath(conversationID)}
		l.journals[conversationID] = j
	}
	return j
}

func (l *Log) journalPath(conversationID string) string {
	return filepath.Join(l.root, conversationID+".jsonl")
}

func (l *Log) readAll() ([]Event, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log root: %w", err)
	}
	var all []Event
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		events, err := l.readJournal(filepath.Join(l.root, entry.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

func (l *Log) readJournal(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// A torn trailing line from a crash mid-write; never surface it.
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	return events, nil
}

func sortByTimestamp(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
