// Package mock provides in-memory mock implementations of the
// [live.Provider] and [live.SessionHandle] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values. Inbound
// server events are simulated by calling [Session.EmitEvent].
package mock

import (
	"context"
	"sync"

	"github.com/voxtide/voxtide/pkg/provider/live"
)

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [live.SessionHandle].
type Session struct {
	mu sync.Mutex

	// SendAudioError is returned by [Session.SendAudio].
	SendAudioError error

	// SentChunks records every PCM buffer passed to SendAudio, in call order.
	// Buffers are copied, so the caller may reuse its slice.
	SentChunks [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	events chan live.ServerEvent
	closed bool
}

// NewSession creates a mock session with an event channel buffer of depth n.
func NewSession(n int) *Session {
	if n <= 0 {
		n = 16
	}
	return &Session{events: make(chan live.ServerEvent, n)}
}

// SendAudio implements [live.SessionHandle]. Records a copy of pcm.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.SentChunks = append(s.SentChunks, buf)
	return s.SendAudioError
}

// Events implements [live.SessionHandle].
func (s *Session) Events() <-chan live.ServerEvent { return s.events }

// Close implements [live.SessionHandle]. The first call closes the events
// channel; subsequent calls are no-ops. Always returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// EmitEvent delivers ev on the session's events channel. Use this in tests to
// simulate inbound server messages. Panics if called after Close.
func (s *Session) EmitEvent(ev live.ServerEvent) {
	s.events <- ev
}

// SentCount returns the number of SendAudio calls recorded so far.
func (s *Session) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentChunks)
}

// ─── Provider ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Provider.Connect] invocation.
type ConnectCall struct {
	// Config is the SessionConfig passed to Connect.
	Config live.SessionConfig
}

// Provider is a mock implementation of [live.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectResult is the [live.SessionHandle] returned by Connect.
	ConnectResult live.SessionHandle

	// ConnectError is the error returned by Connect. When non-nil,
	// ConnectResult is not returned.
	ConnectError error

	// CapabilitiesResult is returned by [Provider.Capabilities]. The zero
	// value reports 16 kHz in / 24 kHz out.
	CapabilitiesResult live.Capabilities

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [live.Provider]. Records the call and returns
// ConnectResult / ConnectError.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Config: cfg})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	return p.ConnectResult, nil
}

// Capabilities implements [live.Provider].
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	caps := p.CapabilitiesResult
	if caps.InputSampleRate == 0 {
		caps.InputSampleRate = 16000
	}
	if caps.OutputSampleRate == 0 {
		caps.OutputSampleRate = 24000
	}
	return caps
}
