// Package state tracks incremental bookmarks: the "since" watermark recorded
// per resource after a successful sync.
package state

import (
	"bytes"
	"fmt"
	"maps"
	"time"

	"github.com/goccy/go-json"
)

// TimestampLayout is the bookmark format: UTC, second precision, no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05"

// Entry is the persisted bookmark for one resource.
type Entry struct {
	Since string `json:"since,omitempty"`
}

// State maps a resource name to its bookmark. The zero value is an empty state.
type State map[string]Entry

// GetBookmark returns the stored "since" watermark for resource, if any.
func GetBookmark(st State, resource string) (string, bool) {
	entry, ok := st[resource]
	if !ok || entry.Since == "" {
		return "", false
	}
	return entry.Since, true
}

// WriteBookmark returns a copy of st with resource's watermark set to t. The
// input is not modified, so repeated calls with the same arguments yield the
// same state.
func WriteBookmark(st State, resource string, t time.Time) State {
	next := make(State, len(st)+1)
	maps.Copy(next, st)
	next[resource] = Entry{Since: FormatTimestamp(t)}
	return next
}

// FormatTimestamp renders t in the bookmark layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Parse decodes persisted state. Empty input yields an empty state.
func Parse(data []byte) (State, error) {
	st := State{}
	if len(bytes.TrimSpace(data)) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// Marshal encodes st in the persisted layout.
func Marshal(st State) ([]byte, error) {
	if st == nil {
		st = State{}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}
