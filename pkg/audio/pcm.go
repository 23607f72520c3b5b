package audio

// EncodePCM16LE converts floating-point samples in [-1.0, 1.0] to 16-bit
// signed little-endian PCM, one sample per 2 bytes, preserving sample order
// and count. Out-of-range input is clamped rather than rejected, so a noisy
// capture callback can never fail the pipeline.
//
// The function is pure and allocation-per-call only; it is safe to call from
// any goroutine.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1.0 {
			f = 1.0
		} else if f < -1.0 {
			f = -1.0
		}
		var s int16
		if f < 0 {
			s = int16(f * 32768)
		} else {
			s = int16(f * 32767)
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePCM16LE converts 16-bit signed little-endian PCM bytes back to
// floating-point samples in [-1.0, 1.0]. A trailing odd byte is ignored.
func DecodePCM16LE(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}
