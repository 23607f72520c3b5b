package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxtide/voxtide/pkg/audio"
	audiomock "github.com/voxtide/voxtide/pkg/audio/mock"
	"github.com/voxtide/voxtide/pkg/provider/live"
	livemock "github.com/voxtide/voxtide/pkg/provider/live/mock"
	"github.com/voxtide/voxtide/pkg/transcript"
)

// fixture bundles the mocks a controller needs and records every credential
// the provider factory was invoked with.
type fixture struct {
	provider *livemock.Provider
	sess     *livemock.Session
	device   *audiomock.Device
	frames   chan audio.Frame
	line     *audiomock.Line

	mu    sync.Mutex
	creds []string
}

func newFixture() *fixture {
	f := &fixture{
		sess:   livemock.NewSession(16),
		frames: make(chan audio.Frame, 16),
		line:   &audiomock.Line{},
	}
	f.provider = &livemock.Provider{ConnectResult: f.sess}
	f.device = &audiomock.Device{OpenResult: &audiomock.Stream{FramesResult: f.frames}}
	return f
}

func (f *fixture) factory(cred string) live.Provider {
	f.mu.Lock()
	f.creds = append(f.creds, cred)
	f.mu.Unlock()
	return f.provider
}

// lastCred returns the credential of the most recent factory call, skipping
// the unbound probe made at construction.
func (f *fixture) lastCred(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.creds) == 0 {
		t.Fatal("provider factory never called")
	}
	return f.creds[len(f.creds)-1]
}

func (f *fixture) config() Config {
	return Config{
		NewProvider: f.factory,
		Input:       f.device,
		OpenLine: func(context.Context, int) (audio.Line, error) {
			return f.line, nil
		},
		Credential: "user-key",
		LookupEnv:  func(string) string { return "" },
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

// await polls cond until it holds or the deadline passes.
func await(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestNewController_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewController(Config{})
	if err == nil {
		t.Fatal("NewController accepted an empty config")
	}
	for _, want := range []string{"NewProvider", "Input", "OpenLine"} {
		if got := err.Error(); !strings.Contains(got, want) {
			t.Errorf("error %q does not mention %s", got, want)
		}
	}
}

func TestStart_NoCredentialLandsInErrorWithoutResources(t *testing.T) {
	t.Parallel()

	f := newFixture()
	cfg := f.config()
	cfg.Credential = ""
	c := newTestController(t, cfg)

	err := c.Start(context.Background())
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("Start error = %v, want ErrCredentialMissing", err)
	}
	if got := c.State(); got != StateError {
		t.Fatalf("state = %q, want %q", got, StateError)
	}
	if len(f.device.OpenCalls) != 0 {
		t.Fatal("capture device was opened despite missing credential")
	}
	if len(f.provider.ConnectCalls) != 0 {
		t.Fatal("channel was opened despite missing credential")
	}
}

func TestStart_CredentialResolutionOrder(t *testing.T) {
	t.Parallel()

	t.Run("user overrides environment", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		cfg := f.config()
		cfg.Credential = "user-key"
		cfg.LookupEnv = func(string) string { return "env-key" }
		c := newTestController(t, cfg)

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if got := f.lastCred(t); got != "user-key" {
			t.Fatalf("provider credential = %q, want %q", got, "user-key")
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		cfg := f.config()
		cfg.Credential = ""
		cfg.LookupEnv = func(key string) string {
			if key == "GEMINI_API_KEY" {
				return "env-key"
			}
			return ""
		}
		c := newTestController(t, cfg)

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if got := f.lastCred(t); got != "env-key" {
			t.Fatalf("provider credential = %q, want %q", got, "env-key")
		}
	})
}

func TestStart_DeviceOpenFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.device.OpenError = errors.New("permission denied")
	c := newTestController(t, f.config())

	err := c.Start(context.Background())
	if !errors.Is(err, ErrDeviceAccessDenied) {
		t.Fatalf("Start error = %v, want ErrDeviceAccessDenied", err)
	}
	if got := c.State(); got != StateError {
		t.Fatalf("state = %q, want %q", got, StateError)
	}
	if len(f.provider.ConnectCalls) != 0 {
		t.Fatal("channel was opened despite device failure")
	}
}

func TestStart_ChannelOpenFailureReleasesStream(t *testing.T) {
	t.Parallel()

	f := newFixture()
	stream := &audiomock.Stream{FramesResult: f.frames}
	f.device.OpenResult = stream
	f.provider.ConnectError = errors.New("upstream unavailable")
	c := newTestController(t, f.config())

	err := c.Start(context.Background())
	if !errors.Is(err, ErrChannelOpen) {
		t.Fatalf("Start error = %v, want ErrChannelOpen", err)
	}
	if got := c.State(); got != StateError {
		t.Fatalf("state = %q, want %q", got, StateError)
	}
	if stream.CallCountClose == 0 {
		t.Fatal("capture stream was not released after channel open failure")
	}
}

func TestStart_ConnectedAndForwardsCapturedFrames(t *testing.T) {
	t.Parallel()

	f := newFixture()
	cfg := f.config()
	cfg.Voice = "aoede"
	c := newTestController(t, cfg)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %q, want %q", got, StateConnected)
	}
	if len(f.provider.ConnectCalls) != 1 {
		t.Fatalf("Connect called %d times, want 1", len(f.provider.ConnectCalls))
	}
	if got := f.provider.ConnectCalls[0].Config.VoiceID; got != "aoede" {
		t.Fatalf("voice passed to Connect = %q, want %q", got, "aoede")
	}

	f.frames <- audio.Frame{Samples: []float32{0.1, -0.1}, SampleRate: 16000}
	await(t, time.Second, func() bool { return f.sess.SentCount() == 1 })
}

func TestStart_WhileConnectedReturnsAlreadyRunning(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := newTestController(t, f.config())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStop_ReleasesEverythingAndIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	stream := &audiomock.Stream{FramesResult: f.frames}
	f.device.OpenResult = stream
	c := newTestController(t, f.config())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %q, want %q", got, StateDisconnected)
	}
	if f.sess.CallCountClose == 0 {
		t.Fatal("session handle not closed")
	}
	if stream.CallCountClose == 0 {
		t.Fatal("capture stream not closed")
	}
	if f.line.CallCountClose == 0 {
		t.Fatal("output line not closed")
	}

	// Second stop is a no-op, not an error.
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state after second Stop = %q, want %q", got, StateDisconnected)
	}
}

func TestToggle_StartsThenStops(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := newTestController(t, f.config())

	st, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if st != StateConnected {
		t.Fatalf("state after first toggle = %q, want %q", st, StateConnected)
	}

	st, err = c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("second Toggle: %v", err)
	}
	if st != StateDisconnected {
		t.Fatalf("state after second toggle = %q, want %q", st, StateDisconnected)
	}
}

func TestToggle_RetriesFromError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.provider.ConnectError = errors.New("flaky")
	c := newTestController(t, f.config())

	if _, err := c.Toggle(context.Background()); !errors.Is(err, ErrChannelOpen) {
		t.Fatalf("first toggle error = %v, want ErrChannelOpen", err)
	}

	f.provider.ConnectError = nil
	st, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("retry toggle: %v", err)
	}
	if st != StateConnected {
		t.Fatalf("state after retry = %q, want %q", st, StateConnected)
	}
}

func TestEventRouting_CombinedEventAppliesAllFields(t *testing.T) {
	t.Parallel()

	f := newFixture()
	history := transcript.NewHistory()
	cfg := f.config()
	cfg.History = history
	c := newTestController(t, cfg)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One server message may carry interruption, audio, transcripts, and
	// turn completion at once; all of them must take effect.
	pcm := make([]byte, 480) // 10 ms at 24 kHz
	f.sess.EmitEvent(live.ServerEvent{
		Interrupted:      true,
		Audio:            pcm,
		InputTranscript:  "hello",
		OutputTranscript: "hi there",
		TurnComplete:     true,
	})

	await(t, time.Second, func() bool { return f.line.WriteCount() == 1 })
	await(t, time.Second, func() bool { return history.Len() == 2 })

	entries := history.Entries()
	if entries[0].Role != transcript.RoleUser || entries[0].Text != "hello" {
		t.Fatalf("user entry = %+v", entries[0])
	}
	if entries[1].Role != transcript.RoleAssistant || entries[1].Text != "hi there" {
		t.Fatalf("assistant entry = %+v", entries[1])
	}
}

func TestEventRouting_TranscriptFragmentsFoldIntoOneTurn(t *testing.T) {
	t.Parallel()

	f := newFixture()
	history := transcript.NewHistory()
	cfg := f.config()
	cfg.History = history
	c := newTestController(t, cfg)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.sess.EmitEvent(live.ServerEvent{InputTranscript: "what time "})
	f.sess.EmitEvent(live.ServerEvent{InputTranscript: "is it?"})
	f.sess.EmitEvent(live.ServerEvent{OutputTranscript: "Half past three."})
	f.sess.EmitEvent(live.ServerEvent{TurnComplete: true})

	await(t, time.Second, func() bool { return history.Len() == 2 })
	entries := history.Entries()
	if entries[0].Text != "what time is it?" {
		t.Fatalf("user text = %q", entries[0].Text)
	}
	if entries[1].Text != "Half past three." {
		t.Fatalf("assistant text = %q", entries[1].Text)
	}
}

func TestEventRouting_PartialTurnDiesWithSession(t *testing.T) {
	t.Parallel()

	f := newFixture()
	history := transcript.NewHistory()
	cfg := f.config()
	cfg.History = history
	c := newTestController(t, cfg)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Accumulate fragments with no turn completion, then stop mid-turn. The
	// trailing audio write proves the fragments were routed before the stop.
	f.sess.EmitEvent(live.ServerEvent{InputTranscript: "ghost ", OutputTranscript: "stale "})
	f.sess.EmitEvent(live.ServerEvent{Audio: make([]byte, 480)})
	await(t, time.Second, func() bool { return f.line.WriteCount() == 1 })

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sess2 := livemock.NewSession(16)
	f.provider.ConnectResult = sess2
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	sess2.EmitEvent(live.ServerEvent{
		InputTranscript:  "fresh question",
		OutputTranscript: "clean answer",
		TurnComplete:     true,
	})

	await(t, time.Second, func() bool { return history.Len() == 2 })
	entries := history.Entries()
	if entries[0].Text != "fresh question" {
		t.Fatalf("user text = %q, first turn must not carry the dead session's fragments", entries[0].Text)
	}
	if entries[1].Text != "clean answer" {
		t.Fatalf("assistant text = %q, first turn must not carry the dead session's fragments", entries[1].Text)
	}
}

func TestEventRouting_DecodeFailureKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	f := newFixture()
	history := transcript.NewHistory()
	cfg := f.config()
	cfg.History = history
	c := newTestController(t, cfg)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A malformed payload drops that chunk only; the session keeps running
	// and later events still route.
	f.sess.EmitEvent(live.ServerEvent{DecodeErr: errors.New("truncated base64 payload")})
	f.sess.EmitEvent(live.ServerEvent{
		Audio:            make([]byte, 480),
		InputTranscript:  "still here?",
		OutputTranscript: "still here.",
		TurnComplete:     true,
	})

	await(t, time.Second, func() bool { return f.line.WriteCount() == 1 })
	await(t, time.Second, func() bool { return history.Len() == 2 })
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %q, want %q after recoverable decode failure", got, StateConnected)
	}
	if entries := history.Entries(); entries[0].Text != "still here?" {
		t.Fatalf("user text = %q", entries[0].Text)
	}
}

func TestEventRouting_ChannelErrorTearsDownToError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := newTestController(t, f.config())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sess.EmitEvent(live.ServerEvent{Err: errors.New("quota exceeded")})

	await(t, time.Second, func() bool { return c.State() == StateError })
	await(t, time.Second, func() bool { return f.line.CallCountClose > 0 })
}

func TestEventRouting_RemoteCloseTearsDownToDisconnected(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := newTestController(t, f.config())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sess.EmitEvent(live.ServerEvent{Closed: true})

	await(t, time.Second, func() bool { return c.State() == StateDisconnected })
}

func TestOnState_ObservesTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture()
	cfg := f.config()

	var mu sync.Mutex
	var seen []State
	cfg.OnState = func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}
	c := newTestController(t, cfg)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}
