package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a capture stream must be
// abandoned mid-flight (e.g., teardown while frames are still arriving).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
