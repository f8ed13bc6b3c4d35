// Package summary compacts a slice of conversation events into a
// deterministic, content-addressed text artifact.
//
// Summarization is a pure function of its input: the same events in the same
// order always produce the same Ref, which makes re-summarization idempotent
// and lets callers use the Ref as a cache key.
package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/GoCodeAlone/hyperagent/eventlog"
)

// Summary is a compaction of a contiguous prefix of a conversation's events.
type Summary struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Ref            string `json:"summary_ref"` // sha256 of Content
}

// Rolling renders the events grouped by type (types in lexicographic order,
// events within a type in original order) and computes the content hash.
func Rolling(conversationID string, events []eventlog.Event) Summary {
	groups := make(map[string][]string)
	for _, ev := range events {
		typ := ev.Type
		if typ == "" {
			typ = "UNKNOWN"
		}
		groups[typ] = append(groups[typ], stringify(ev))
	}

	types := make([]string, 0, len(groups))
	for typ := range groups {
		types = append(types, typ)
	}
	sort.Strings(types)

	var lines []string
	for _, typ := range types {
		lines = append(lines, "### "+typ)
		for _, item := range groups[typ] {
			lines = append(lines, "- "+item)
		}
	}
	content := strings.TrimSpace(strings.Join(lines, "\n"))
	hash := sha256.Sum256([]byte(content))

	return Summary{
		ConversationID: conversationID,
		Content:        content,
		Ref:            hex.EncodeToString(hash[:]),
	}
}

// Persist writes the summary to dir as <conversation_id>.md with the Ref
// embedded as a verifiable header, replacing any prior artifact for the
// conversation. It returns the written path.
func Persist(dir string, s Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create summary dir: %w", err)
	}
	path := filepath.Join(dir, s.ConversationID+".md")
	content := fmt.Sprintf("<!-- summary_ref:%s -->\n%s\n", s.Ref, s.Content)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write summary %s: %w", path, err)
	}
	return path, nil
}

// stringify renders an event's payload for a summary line. Map payloads are
// serialized with sorted keys so the rendering is deterministic.
func stringify(ev eventlog.Event) string {
	switch p := ev.Payload.(type) {
	case nil:
		return "(no payload)"
	case string:
		return p
	default:
		// encoding/json sorts map keys.
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprintf("%v", p)
		}
		return string(b)
	}
}
