// Package audio defines the types and interfaces for audio capture, PCM
// framing, and playback output within Voxtide.
//
// The three primary abstractions are:
//
//   - [Device] — opens the microphone and returns a capture [Stream].
//   - [Stream] — delivers captured [Frame] values in strict capture order.
//   - [Line] — accepts raw s16le PCM for immediate playback output.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages; the [mock] subpackage provides in-memory doubles for
// tests. The interfaces are intentionally narrow to keep the session
// controller decoupled from device details.
package audio

import "context"

// StreamConfig describes the capture format requested from a [Device].
type StreamConfig struct {
	// SampleRate is the requested capture rate in Hz.
	SampleRate int

	// FrameSize is the fixed number of samples delivered per [Frame].
	FrameSize int
}

// Stream is an open capture stream on an input device.
//
// Frames are delivered in strict capture order with no buffering or
// reordering beyond the channel itself. The frames channel is closed when
// the stream is closed or the device fails.
type Stream interface {
	// Frames returns the read-only channel of captured frames. Consumers must
	// drain it promptly; a stalled consumer causes the device adapter to drop
	// frames rather than block its capture callback.
	Frames() <-chan Frame

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// Device is the entry point for an audio input provider.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open requests access to the input device and starts capture with the
	// given config. The supplied ctx governs the lifetime of the permission
	// request and open attempt only; once open, the Stream remains live until
	// [Stream.Close] is called.
	//
	// Returns an error if access is denied or the device cannot be opened.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Line is a playback output sink. The playback scheduler writes each chunk's
// PCM at its scheduled start time; the line plays bytes in write order.
type Line interface {
	// Write queues raw s16le mono PCM for immediate output. Must not block
	// for longer than the device buffer requires.
	Write(pcm []byte) error

	// Close releases the output device. Safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}
