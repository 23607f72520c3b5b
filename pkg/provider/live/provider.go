// Package live defines the Provider interface for realtime voice model
// backends.
//
// A live provider wraps a conversational speech model that accepts a
// continuous stream of raw audio input and returns synthesised audio output
// plus transcript fragments over a single, stateful session. Examples include
// the Gemini Live API and similar low-latency voice endpoints.
//
// The central abstraction is SessionHandle: a bidirectional channel that
// carries outbound PCM in one direction and ordered [ServerEvent] values in
// the other. Sessions are designed to be long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"time"
)

// SessionConfig is the initial configuration for a new live session.
// The fields are opaque inputs to session open; the provider does not
// validate their content.
type SessionConfig struct {
	// VoiceID selects the prebuilt voice the model uses for synthesised
	// speech output. Empty selects the provider default.
	VoiceID string

	// Instructions is the system-level prompt applied for the whole session.
	Instructions string
}

// ServerEvent is one inbound message from the model session, delivered in
// strict arrival order. A single event may carry several fields at once —
// an audio payload together with a transcript fragment and a turn-complete
// flag is a legal combination. Consumers must apply every present field
// before advancing to the next event.
type ServerEvent struct {
	// Audio is a decoded PCM chunk of synthesised output, or nil when the
	// event carries no audio.
	Audio []byte

	// Interrupted signals that the user spoke over in-progress output; all
	// pending playback for the current turn must be flushed immediately.
	Interrupted bool

	// InputTranscript is a fragment of the user's recognised speech for the
	// current turn. Fragments concatenate in arrival order.
	InputTranscript string

	// OutputTranscript is a fragment of the model's spoken response as text.
	OutputTranscript string

	// TurnComplete marks the end of the current conversational turn. When it
	// arrives together with transcript fragments, the fragments apply first.
	TurnComplete bool

	// DecodeErr reports a malformed audio payload on this event. The chunk
	// is dropped; the session continues. Non-fatal.
	DecodeErr error

	// Err is a terminal session error reported by the remote side. The
	// events channel closes after an event carrying Err.
	Err error

	// Closed signals that the remote side ended the session cleanly. The
	// events channel closes after an event carrying Closed.
	Closed bool
}

// Capabilities describes static properties of a live provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputSampleRate is the PCM sample rate (Hz) the provider expects on
	// SendAudio.
	InputSampleRate int

	// OutputSampleRate is the PCM sample rate (Hz) of synthesised audio
	// carried in ServerEvent.Audio.
	OutputSampleRate int

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the voice identifiers available for this provider.
	Voices []string
}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply mock implementations without a network connection.
//
// The session is the hot path of the voice pipeline — every method must
// return quickly. Callers must call Close when the session is no longer
// needed.
type SessionHandle interface {
	// SendAudio delivers one raw PCM chunk (s16le mono at the provider's
	// input rate) to the model. Chunks must be sent in capture order.
	// Returns an error if the session is closed or the transport rejects
	// the write.
	SendAudio(pcm []byte) error

	// Events returns the read-only channel of inbound session events. The
	// channel preserves remote arrival order and is closed when the session
	// ends for any reason. Consumers must drain it promptly to avoid
	// stalling the provider's receive loop.
	Events() <-chan ServerEvent

	// Close terminates the session, releases all resources, and closes the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live voice model backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, network error, or ctx already cancelled). The caller owns the
	// SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's model.
	Capabilities() Capabilities
}
