package pipeline

import (
	"context"
	"fmt"

	"github.com/voxtide/voxtide/pkg/audio"
)

// SendFunc delivers one encoded PCM chunk to the remote session.
type SendFunc func(pcm []byte) error

// CaptureOption configures a [CapturePipe] during construction.
type CaptureOption func(*CapturePipe)

// WithInputTap attaches an analysis tap that receives every captured frame
// after resampling, before encoding.
func WithInputTap(tap *audio.Tap) CaptureOption {
	return func(p *CapturePipe) { p.tap = tap }
}

// CapturePipe moves microphone frames from a capture stream to the remote
// session: each frame is resampled to the session's input rate, encoded as
// 16-bit little-endian PCM, and handed to send. Frames are forwarded one at
// a time in strict capture order; the pipe never buffers, reorders, or
// batches.
type CapturePipe struct {
	stream     audio.Stream
	send       SendFunc
	targetRate int
	tap        *audio.Tap
}

// NewCapturePipe creates a pipe reading from stream and delivering encoded
// chunks at targetRate via send.
func NewCapturePipe(stream audio.Stream, targetRate int, send SendFunc, opts ...CaptureOption) *CapturePipe {
	p := &CapturePipe{
		stream:     stream,
		send:       send,
		targetRate: targetRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run forwards frames until the stream's channel closes, ctx is cancelled,
// or send fails. A send failure is returned wrapped so the caller can tear
// the session down; a closed stream returns nil.
//
// On every early exit the abandoned stream is drained in the background so
// the device adapter never blocks on an unread frame before its Close lands.
func (p *CapturePipe) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(p.stream.Frames())
			return ctx.Err()
		case frame, open := <-p.stream.Frames():
			if !open {
				return nil
			}
			samples := frame.Samples
			if frame.SampleRate != p.targetRate {
				samples = audio.ResampleFloat32(samples, frame.SampleRate, p.targetRate)
			}
			if p.tap != nil {
				p.tap.Push(samples)
			}
			if err := p.send(audio.EncodePCM16LE(samples)); err != nil {
				go audio.Drain(p.stream.Frames())
				return fmt.Errorf("pipeline: send captured frame: %w", err)
			}
		}
	}
}
