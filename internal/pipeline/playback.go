// Package pipeline implements the realtime audio pipeline: the capture pipe
// that feeds microphone frames to the outbound session, the playback
// scheduler that places synthesised chunks back-to-back on the output
// timeline, and the transcript aggregator that folds fragments into
// completed turns.
//
// The package is internal because it encapsulates session-private pipeline
// logic; the session controller is its only consumer.
package pipeline

import (
	"sync"
	"time"

	"github.com/voxtide/voxtide/pkg/audio"
)

// Clock reports the current position on the output timeline. The zero point
// is arbitrary but fixed for the scheduler's lifetime; values must be
// monotonically non-decreasing.
type Clock func() time.Duration

// SchedulerOption configures a [Scheduler] during construction.
type SchedulerOption func(*Scheduler)

// WithClock overrides the output clock. Useful in tests to pin the timeline.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithOutputTap attaches an analysis tap that receives every chunk as it is
// written to the line.
func WithOutputTap(tap *audio.Tap) SchedulerOption {
	return func(s *Scheduler) { s.tap = tap }
}

// Scheduler places decoded PCM chunks back-to-back on a single output
// timeline. Chunks are accepted in event order; each is scheduled to start
// exactly when the previous chunk's playback window ends, never overlapping
// and never gapping once a turn has begun. If the consumer falls behind the
// output clock, the cursor clamps forward to "now" — a perceptible gap is
// preferred over accumulating negative lag.
//
// Flush stops every active source immediately and resets the cursor to zero
// so the next turn starts fresh relative to the output clock. A source whose
// start fires after a flush or close is discarded, never played.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	line       audio.Line
	sampleRate int
	clock      Clock
	tap        *audio.Tap

	mu        sync.Mutex
	nextStart time.Duration
	gen       uint64
	active    map[*source]struct{}
	closed    bool
}

// source is one scheduled chunk: pending (timer armed), then playing until
// its completion timer removes it from the active set.
type source struct {
	gen   uint64
	timer *time.Timer // start timer, then reused reference for completion
}

// NewScheduler creates a Scheduler writing to line. sampleRate is the PCM
// rate of the chunks passed to [Scheduler.Enqueue] and determines each
// chunk's duration on the timeline.
func NewScheduler(line audio.Line, sampleRate int, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		line:       line,
		sampleRate: sampleRate,
		active:     make(map[*source]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		epoch := time.Now()
		s.clock = func() time.Duration { return time.Since(epoch) }
	}
	return s
}

// Enqueue schedules pcm on the output timeline and returns its start offset.
// Chunks must be enqueued in event order; the start offsets of successive
// chunks are non-decreasing and never overlap. A chunk enqueued after Close
// is discarded and reported with ok=false.
func (s *Scheduler) Enqueue(pcm []byte) (start time.Duration, ok bool) {
	d := audio.Duration(len(pcm), s.sampleRate)
	if d <= 0 {
		return 0, false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, false
	}

	now := s.clock()
	if s.nextStart < now {
		s.nextStart = now
	}
	start = s.nextStart
	s.nextStart += d

	src := &source{gen: s.gen}
	s.active[src] = struct{}{}
	src.timer = time.AfterFunc(start-now, func() { s.fire(src, pcm, d) })
	s.mu.Unlock()

	return start, true
}

// fire runs when a source's start timer elapses. It writes the chunk to the
// line unless a flush or close invalidated the source first, then arms the
// completion timer that removes the source from the active set.
func (s *Scheduler) fire(src *source, pcm []byte, d time.Duration) {
	s.mu.Lock()
	if _, live := s.active[src]; !live || src.gen != s.gen || s.closed {
		delete(s.active, src)
		s.mu.Unlock()
		return
	}
	src.timer = time.AfterFunc(d, func() { s.complete(src) })
	s.mu.Unlock()

	// Write outside the lock: the line may block for its device buffer.
	_ = s.line.Write(pcm)
	if s.tap != nil {
		s.tap.PushPCM(pcm)
	}
}

// complete removes a naturally finished source from the active set.
func (s *Scheduler) complete(src *source) {
	s.mu.Lock()
	delete(s.active, src)
	s.mu.Unlock()
}

// Flush stops every active source immediately — including already-started,
// not-yet-finished ones — clears the set atomically, and resets the cursor
// to zero. In-flight starts that fire after the flush are discarded.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// flushLocked must be called with s.mu held.
func (s *Scheduler) flushLocked() {
	s.gen++
	for src := range s.active {
		if src.timer != nil {
			src.timer.Stop()
		}
	}
	clear(s.active)
	s.nextStart = 0
}

// ActiveCount returns the number of sources currently pending or playing.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Now returns the current output clock reading. Exposed so callers can
// compute scheduling lag for observability.
func (s *Scheduler) Now() time.Duration {
	return s.clock()
}

// Close flushes all active sources and permanently stops the scheduler.
// Chunks enqueued after Close are discarded and cannot resurrect the active
// set. Safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.flushLocked()
	s.closed = true
	return nil
}
