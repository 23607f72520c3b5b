// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Stream], and [audio.Line] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	frames := make(chan audio.Frame, 16)
//	stream := &mock.Stream{FramesResult: frames}
//	device := &mock.Device{OpenResult: stream}
//	got, err := device.Open(ctx, audio.StreamConfig{SampleRate: 16000, FrameSize: 256})
package mock

import (
	"context"
	"sync"

	"github.com/voxtide/voxtide/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
// Set FramesResult before use; the test owns the channel and simulates
// capture by sending frames on it.
type Stream struct {
	mu sync.Mutex

	// FramesResult is returned by [Stream.Frames].
	FramesResult chan audio.Frame

	// CloseError is returned by the first [Stream.Close] call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FramesResult
}

// Close implements [audio.Stream]. The first call closes FramesResult and
// returns CloseError; subsequent calls are no-ops returning nil.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	if s.FramesResult != nil {
		close(s.FramesResult)
	}
	return s.CloseError
}

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	// Config is the StreamConfig passed to Open.
	Config audio.StreamConfig
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is the [audio.Stream] returned by Open.
	OpenResult audio.Stream

	// OpenError is the error returned by Open. When non-nil, OpenResult is
	// not returned.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.Device]. Records the call and returns
// OpenResult / OpenError.
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Config: cfg})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return d.OpenResult, nil
}

// ─── Line ─────────────────────────────────────────────────────────────────────

// Line is a mock implementation of [audio.Line]. It records every written
// PCM buffer in order.
type Line struct {
	mu sync.Mutex

	// WriteError is returned by [Line.Write].
	WriteError error

	// CloseError is returned by the first [Line.Close] call.
	CloseError error

	// Writes records every PCM buffer passed to Write, in write order.
	// Buffers are copied, so the caller may reuse its slice.
	Writes [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
}

// Write implements [audio.Line]. Records a copy of pcm and returns WriteError.
func (l *Line) Write(pcm []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	l.Writes = append(l.Writes, buf)
	return l.WriteError
}

// Close implements [audio.Line]. The first call returns CloseError;
// subsequent calls are no-ops returning nil.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.CallCountClose++
	if l.closed {
		return nil
	}
	l.closed = true
	return l.CloseError
}

// WriteCount returns the number of Write calls recorded so far.
func (l *Line) WriteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Writes)
}

// Written returns a snapshot of all recorded writes, safe to inspect while
// other goroutines keep writing.
func (l *Line) Written() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.Writes))
	copy(out, l.Writes)
	return out
}
