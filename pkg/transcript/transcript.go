// Package transcript defines the transcript data model shared by the
// pipeline, the UI-facing history, and persistence backends.
//
// Entries are immutable once created. The [History] type is the in-process
// append-only sequence consumed by a UI layer; [Store] is the optional
// persistence abstraction implemented by the postgres subpackage.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	// RoleUser is the local speaker, transcribed by the remote model.
	RoleUser Role = "user"

	// RoleAssistant is the remote model's spoken response as text.
	RoleAssistant Role = "assistant"
)

// Entry is one completed transcript line. Immutable once emitted.
type Entry struct {
	// Role is the speaker of this entry.
	Role Role

	// Text is the full accumulated text for the turn. May be empty when the
	// other side of the turn carried all the content.
	Text string

	// Timestamp is the wall-clock time the turn completed.
	Timestamp time.Time
}

// Store is an append-only persistence sink for transcript entries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists entries under sessionID in the given order.
	Append(ctx context.Context, sessionID string, entries ...Entry) error

	// Recent returns up to limit entries for sessionID, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// History is the in-process append-only transcript sequence. Reads return
// snapshot copies so a UI layer can consume the history at any time without
// blocking appends.
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []Entry
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{}
}

// Append adds entries to the end of the history.
func (h *History) Append(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entries...)
}

// Entries returns a snapshot copy of the full history, oldest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries appended so far.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
