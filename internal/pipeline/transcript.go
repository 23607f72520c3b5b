package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/voxtide/voxtide/pkg/transcript"
)

// completedBuf bounds the completed-turn channel. Persistence consumers that
// fall behind lose notifications, never turns: the history always holds the
// full transcript.
const completedBuf = 16

// AggregatorOption configures an [Aggregator] during construction.
type AggregatorOption func(*Aggregator)

// WithNow overrides the timestamp source. Useful in tests.
func WithNow(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator folds streamed transcript fragments into whole turns. Input and
// output fragments accumulate independently as they arrive; when the model
// signals the end of a turn, CompleteTurn emits one user entry and one
// assistant entry as an atomic pair into the session history and resets both
// accumulators. A turn with no text on either side emits nothing.
type Aggregator struct {
	history *transcript.History
	now     func() time.Time

	mu        sync.Mutex
	user      strings.Builder
	assistant strings.Builder
	completed chan transcript.Entry
}

// NewAggregator creates an Aggregator appending completed turns to history.
func NewAggregator(history *transcript.History, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		history:   history,
		now:       time.Now,
		completed: make(chan transcript.Entry, completedBuf),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AppendUser accumulates a fragment of the user's speech transcription.
func (a *Aggregator) AppendUser(fragment string) {
	a.mu.Lock()
	a.user.WriteString(fragment)
	a.mu.Unlock()
}

// AppendAssistant accumulates a fragment of the model's speech transcription.
func (a *Aggregator) AppendAssistant(fragment string) {
	a.mu.Lock()
	a.assistant.WriteString(fragment)
	a.mu.Unlock()
}

// CompleteTurn closes out the current turn. If either accumulator holds
// text, one user entry and one assistant entry are appended to the history
// as a pair, with the same timestamp, even when one side is empty. Both
// accumulators are then reset. It reports whether a pair was emitted.
func (a *Aggregator) CompleteTurn() bool {
	a.mu.Lock()
	user, assistant := a.user.String(), a.assistant.String()
	a.user.Reset()
	a.assistant.Reset()
	if user == "" && assistant == "" {
		a.mu.Unlock()
		return false
	}
	ts := a.now()
	entries := []transcript.Entry{
		{Role: transcript.RoleUser, Text: user, Timestamp: ts},
		{Role: transcript.RoleAssistant, Text: assistant, Timestamp: ts},
	}
	a.mu.Unlock()

	a.history.Append(entries...)
	for _, e := range entries {
		select {
		case a.completed <- e:
		default:
		}
	}
	return true
}

// Reset discards any partially accumulated turn without emitting it. Called
// on session teardown: fragments of a turn the remote never completed must
// not surface in a later session's first turn. Completed turns are untouched,
// they already live in the history.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.user.Reset()
	a.assistant.Reset()
	a.mu.Unlock()
}

// Completed returns the channel carrying entries of completed turns, in
// emission order. Notifications are dropped when the channel is full.
func (a *Aggregator) Completed() <-chan transcript.Entry {
	return a.completed
}
