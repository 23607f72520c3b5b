package audio

import (
	"math"
	"sync"
)

// defaultTapWindow is the number of recent samples a Tap retains when no
// explicit window is given. 2048 samples is 128 ms at 16 kHz — enough for a
// visualizer refresh without holding the whole turn in memory.
const defaultTapWindow = 2048

// Tap is a passive analysis point on an audio path. The hot path pushes
// samples into the tap; an external visualizer reads waveform or spectrum
// snapshots at any time. Reads never block or mutate the audio flow — they
// copy out of a fixed ring buffer under a short mutex hold.
//
// All methods are safe for concurrent use.
type Tap struct {
	mu         sync.Mutex
	ring       []float32
	pos        int
	filled     bool
	sampleRate int
}

// NewTap creates a Tap retaining the last window samples at sampleRate.
// A non-positive window falls back to a default of 2048 samples.
func NewTap(sampleRate, window int) *Tap {
	if window <= 0 {
		window = defaultTapWindow
	}
	return &Tap{
		ring:       make([]float32, window),
		sampleRate: sampleRate,
	}
}

// Push appends samples to the ring buffer, overwriting the oldest data.
// Called from the audio path; the critical section is a copy only.
func (t *Tap) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	// Only the last len(ring) samples can survive anyway.
	if len(samples) > len(t.ring) {
		samples = samples[len(samples)-len(t.ring):]
	}
	for _, s := range samples {
		t.ring[t.pos] = s
		t.pos++
		if t.pos == len(t.ring) {
			t.pos = 0
			t.filled = true
		}
	}
}

// PushPCM is a convenience wrapper that decodes s16le PCM before pushing.
// Used on the playback path where chunks are already encoded.
func (t *Tap) PushPCM(pcm []byte) {
	t.Push(DecodePCM16LE(pcm))
}

// Waveform returns a copy of the retained samples in chronological order.
// The slice is owned by the caller.
func (t *Tap) Waveform() []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Spectrum returns bins magnitude values covering 0 Hz up to Nyquist,
// computed with a Goertzel filter bank over the retained window. Magnitudes
// are normalised to [0, 1]. Returns nil if the tap has seen no samples or
// bins is non-positive.
func (t *Tap) Spectrum(bins int) []float64 {
	if bins <= 0 {
		return nil
	}
	t.mu.Lock()
	window := t.snapshotLocked()
	rate := t.sampleRate
	t.mu.Unlock()

	if len(window) == 0 || rate <= 0 {
		return nil
	}

	nyquist := float64(rate) / 2
	out := make([]float64, bins)
	n := float64(len(window))
	for b := range bins {
		freq := nyquist * float64(b+1) / float64(bins+1)
		out[b] = goertzel(window, freq, rate) / n
		if out[b] > 1 {
			out[b] = 1
		}
	}
	return out
}

// snapshotLocked copies the ring in chronological order. Must be called with
// t.mu held.
func (t *Tap) snapshotLocked() []float32 {
	if !t.filled && t.pos == 0 {
		return nil
	}
	if !t.filled {
		out := make([]float32, t.pos)
		copy(out, t.ring[:t.pos])
		return out
	}
	out := make([]float32, len(t.ring))
	copy(out, t.ring[t.pos:])
	copy(out[len(t.ring)-t.pos:], t.ring[:t.pos])
	return out
}

// goertzel computes the magnitude of a single frequency component.
func goertzel(samples []float32, freq float64, sampleRate int) float64 {
	omega := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = float64(x) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return math.Sqrt(s1*s1 + s2*s2 - coeff*s1*s2)
}
