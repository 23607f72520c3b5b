package audio

import "time"

// Frame represents a single frame of captured audio flowing through the
// pipeline. Frames are the atomic unit of the input path — pulled from a
// capture [Stream], resampled if needed, and encoded to PCM for transmission.
type Frame struct {
	// Samples holds mono floating-point samples in the range [-1.0, 1.0].
	// Out-of-range values are tolerated and clamped at encode time.
	Samples []float32

	// SampleRate in Hz of this frame (e.g., 48000 for a typical device,
	// 16000 for the outbound session format).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the playback duration of an s16le mono PCM buffer at the
// given sample rate. Returns zero for a non-positive rate.
func Duration(pcmBytes int, sampleRate int) time.Duration {
	if sampleRate <= 0 || pcmBytes <= 0 {
		return 0
	}
	samples := pcmBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
