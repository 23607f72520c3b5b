// Package pcmio implements the audio.Device and audio.Line interfaces over
// raw PCM byte streams. It lets the voice pipeline run against anything that
// speaks signed 16-bit little-endian mono PCM, most commonly a shell pipe:
//
//	arecord -f S16_LE -r 16000 -c 1 | voxtide | aplay -f S16_LE -r 24000 -c 1
//
// The reader side frames the incoming byte stream into fixed-size capture
// frames; the writer side passes playback chunks straight through.
package pcmio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/voxtide/voxtide/pkg/audio"
)

// Compile-time assertions that the pcmio types satisfy the audio interfaces.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*Stream)(nil)
	_ audio.Line   = (*Line)(nil)
)

// frameBuf bounds the capture channel; the pipe consumes frames promptly so
// a shallow buffer suffices.
const frameBuf = 8

// Device reads capture audio as raw s16le mono PCM from an io.Reader.
type Device struct {
	r io.Reader
}

// NewDevice creates a Device reading from r.
func NewDevice(r io.Reader) *Device {
	return &Device{r: r}
}

// Open implements [audio.Device]. The returned stream delivers frames of
// exactly cfg.FrameSize samples until the reader is exhausted or the stream
// is closed.
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("pcmio: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("pcmio: frame size %d is invalid", cfg.FrameSize)
	}

	s := &Stream{
		frames: make(chan audio.Frame, frameBuf),
		done:   make(chan struct{}),
	}
	go s.readLoop(d.r, cfg)
	return s, nil
}

// Stream is one open capture stream over a PCM byte source.
type Stream struct {
	frames chan audio.Frame

	closeOnce sync.Once
	done      chan struct{}
}

// readLoop frames the byte stream. Runs until EOF, a read error, or Close.
func (s *Stream) readLoop(r io.Reader, cfg audio.StreamConfig) {
	defer close(s.frames)

	frameDur := time.Duration(cfg.FrameSize) * time.Second / time.Duration(cfg.SampleRate)
	buf := make([]byte, cfg.FrameSize*2)
	var ts time.Duration

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		frame := audio.Frame{
			Samples:    audio.DecodePCM16LE(buf),
			SampleRate: cfg.SampleRate,
			Timestamp:  ts,
		}
		ts += frameDur

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// Frames implements [audio.Stream]. The channel closes when the source is
// exhausted or the stream is closed.
func (s *Stream) Frames() <-chan audio.Frame {
	return s.frames
}

// Close implements [audio.Stream]. Safe to call more than once.
//
// Close does not unblock a read in flight: the internal goroutine may stay
// parked in [io.ReadFull] until the reader yields more bytes or EOF, and only
// then exits. Callers that need the goroutine gone promptly must close the
// underlying reader as well.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Line writes playback audio as raw s16le mono PCM to an io.Writer.
type Line struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewLine creates a Line writing to w. The caller retains ownership of w;
// closing the line does not close it.
func NewLine(w io.Writer) *Line {
	return &Line{w: w}
}

// Write implements [audio.Line].
func (l *Line) Write(pcm []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("pcmio: line is closed")
	}
	if _, err := l.w.Write(pcm); err != nil {
		return fmt.Errorf("pcmio: write pcm: %w", err)
	}
	return nil
}

// Close implements [audio.Line]. Safe to call more than once.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
