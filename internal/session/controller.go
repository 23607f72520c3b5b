// Package session implements the voice session lifecycle: the state machine
// that owns a live connection, the deterministic teardown of its resources,
// and the routing of inbound channel events into the playback and transcript
// pipelines.
package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/voxtide/voxtide/internal/observe"
	"github.com/voxtide/voxtide/internal/pipeline"
	"github.com/voxtide/voxtide/pkg/audio"
	"github.com/voxtide/voxtide/pkg/provider/live"
	"github.com/voxtide/voxtide/pkg/transcript"
)

// State is the user-visible session status.
type State string

// Session states. StateError is equivalent to StateDisconnected for resource
// purposes; it is retained only as user-visible status.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// credentialEnvVar is consulted when no explicit credential is configured.
const credentialEnvVar = "GEMINI_API_KEY"

// defaultFrameSize is the capture frame size requested from the input device.
const defaultFrameSize = 1024

// ProviderFactory builds a [live.Provider] bound to the given credential.
// Called once per connect attempt, so a credential reconfigured between
// attempts takes effect on the next start. Capabilities of the returned
// provider must not require a live connection.
type ProviderFactory func(credential string) live.Provider

// LineOpener opens the playback output line at the given sample rate.
type LineOpener func(ctx context.Context, sampleRate int) (audio.Line, error)

// Config configures a [Controller].
type Config struct {
	// NewProvider builds the remote channel provider. Must not be nil.
	NewProvider ProviderFactory

	// Input is the capture device. Must not be nil.
	Input audio.Device

	// OpenLine opens the playback output. Must not be nil.
	OpenLine LineOpener

	// Credential is the user-supplied API credential. When empty, the
	// GEMINI_API_KEY environment variable is consulted instead.
	Credential string

	// Voice is the synthesis voice identifier passed through to session
	// open. Opaque to the controller.
	Voice string

	// Instructions is the system instruction text passed through to
	// session open. Opaque to the controller.
	Instructions string

	// FrameSize is the capture frame size in samples. Defaults to 1024.
	FrameSize int

	// History receives completed transcript turns. Defaults to a fresh
	// in-memory history.
	History *transcript.History

	// Metrics records pipeline and session metrics. May be nil.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnState, when non-nil, is invoked after every state change. Called
	// without internal locks held; implementations may call back into the
	// controller.
	OnState func(State)

	// LookupEnv overrides environment lookup for credential resolution.
	// Defaults to os.Getenv. Intended for tests.
	LookupEnv func(key string) string
}

func (c *Config) validate() error {
	var errs []error
	if c.NewProvider == nil {
		errs = append(errs, errors.New("NewProvider must not be nil"))
	}
	if c.Input == nil {
		errs = append(errs, errors.New("Input must not be nil"))
	}
	if c.OpenLine == nil {
		errs = append(errs, errors.New("OpenLine must not be nil"))
	}
	return errors.Join(errs...)
}

// Controller drives one voice session at a time through the lifecycle
// disconnected, connecting, connected, and error. It owns every per-session
// resource and guarantees the teardown sequence on every exit path: normal
// stop, setup failure, runtime error, and remote close.
//
// Exactly one session is live at a time. Start and stop requests are
// serialized; a toggle arriving while another transition is in flight is a
// no-op. All methods are safe for concurrent use.
type Controller struct {
	newProvider  ProviderFactory
	input        audio.Device
	openLine     LineOpener
	credential   string
	voice        string
	instructions string
	frameSize    int
	history      *transcript.History
	aggregator   *pipeline.Aggregator
	metrics      *observe.Metrics
	logger       *slog.Logger
	onState      func(State)
	lookupEnv    func(string) string

	inputTap  *audio.Tap
	outputTap *audio.Tap

	opMu sync.Mutex // serializes start/stop transitions

	mu      sync.Mutex // guards state and current
	state   State
	current *sessionContext
}

// sessionContext owns the resources of one live session. It is created on
// connect and discarded on teardown; pipeline components receive it via
// their constructors, never as shared package state.
type sessionContext struct {
	handle    live.SessionHandle
	scheduler *pipeline.Scheduler
	resources *ResourceSet
	cancel    context.CancelFunc
}

// NewController creates a Controller in the disconnected state.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaultFrameSize
	}
	if cfg.History == nil {
		cfg.History = transcript.NewHistory()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.Getenv
	}

	// Capability rates are static per provider, so an unbound instance is
	// enough to size the analysis taps.
	caps := cfg.NewProvider("").Capabilities()

	return &Controller{
		newProvider:  cfg.NewProvider,
		input:        cfg.Input,
		openLine:     cfg.OpenLine,
		credential:   cfg.Credential,
		voice:        cfg.Voice,
		instructions: cfg.Instructions,
		frameSize:    cfg.FrameSize,
		history:      cfg.History,
		aggregator:   pipeline.NewAggregator(cfg.History),
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		onState:      cfg.OnState,
		lookupEnv:    cfg.LookupEnv,
		inputTap:     audio.NewTap(caps.InputSampleRate, 0),
		outputTap:    audio.NewTap(caps.OutputSampleRate, 0),
		state:        StateDisconnected,
	}, nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns the transcript history shared across sessions.
func (c *Controller) History() *transcript.History { return c.history }

// Completed returns the channel of transcript entries emitted as turns
// complete. The channel is stable across sessions.
func (c *Controller) Completed() <-chan transcript.Entry { return c.aggregator.Completed() }

// InputTap returns the analysis tap fed with captured microphone audio.
func (c *Controller) InputTap() *audio.Tap { return c.inputTap }

// OutputTap returns the analysis tap fed with played-back model audio.
func (c *Controller) OutputTap() *audio.Tap { return c.outputTap }

// Toggle stops the session when connected and starts one otherwise,
// including retrying from the error state. When another start or stop is
// already in flight the toggle is a no-op. Returns the resulting state.
func (c *Controller) Toggle(ctx context.Context) (State, error) {
	if !c.opMu.TryLock() {
		return c.State(), nil
	}
	defer c.opMu.Unlock()

	if c.State() == StateConnected {
		err := c.stop()
		return c.State(), err
	}
	err := c.start(ctx)
	return c.State(), err
}

// Start explicitly starts a session. Returns [ErrAlreadyRunning] when one is
// already connected.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.State() == StateConnected {
		return ErrAlreadyRunning
	}
	return c.start(ctx)
}

// Stop tears the current session down and lands in the disconnected state.
// Stopping an already-stopped controller is a no-op.
func (c *Controller) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stop()
}

// Close implements io.Closer as an alias for Stop.
func (c *Controller) Close() error { return c.Stop() }

// resolveCredential applies the resolution order: user-supplied overrides
// environment-provided.
func (c *Controller) resolveCredential() string {
	if c.credential != "" {
		return c.credential
	}
	return c.lookupEnv(credentialEnvVar)
}

// start runs the connect sequence. Caller holds opMu.
func (c *Controller) start(ctx context.Context) error {
	cred := c.resolveCredential()
	if cred == "" {
		c.setState(StateError)
		c.metrics.RecordSessionError(ctx, "credential")
		return ErrCredentialMissing
	}

	c.setState(StateConnecting)
	began := time.Now()

	provider := c.newProvider(cred)
	caps := provider.Capabilities()

	stream, err := c.input.Open(ctx, audio.StreamConfig{
		SampleRate: caps.InputSampleRate,
		FrameSize:  c.frameSize,
	})
	if err != nil {
		c.setState(StateError)
		c.metrics.RecordSessionError(ctx, "device_access")
		return errors.Join(ErrDeviceAccessDenied, err)
	}

	handle, err := provider.Connect(ctx, live.SessionConfig{
		VoiceID:      c.voice,
		Instructions: c.instructions,
	})
	if err != nil {
		_ = stream.Close()
		c.setState(StateError)
		c.metrics.RecordSessionError(ctx, "channel_open")
		return errors.Join(ErrChannelOpen, err)
	}

	line, err := c.openLine(ctx, caps.OutputSampleRate)
	if err != nil {
		_ = handle.Close()
		_ = stream.Close()
		c.setState(StateError)
		c.metrics.RecordSessionError(ctx, "device_access")
		return errors.Join(ErrDeviceAccessDenied, err)
	}

	scheduler := pipeline.NewScheduler(line, caps.OutputSampleRate,
		pipeline.WithOutputTap(c.outputTap))

	// Release order matters: the session handle first so the remote stops
	// producing, then capture, then output, then the playback sources.
	resources := NewResourceSet()
	resources.Add("session handle", handle.Close)
	resources.Add("capture stream", stream.Close)
	resources.Add("output line", line.Close)
	resources.Add("playback scheduler", scheduler.Close)

	sctx, cancel := context.WithCancel(context.Background())
	sc := &sessionContext{
		handle:    handle,
		scheduler: scheduler,
		resources: resources,
		cancel:    cancel,
	}

	c.mu.Lock()
	c.current = sc
	c.mu.Unlock()
	c.setState(StateConnected)
	c.metrics.SessionStarted(ctx, time.Since(began))
	c.logger.Info("session connected",
		"voice", c.voice,
		"input_rate", caps.InputSampleRate,
		"output_rate", caps.OutputSampleRate,
	)

	pipe := pipeline.NewCapturePipe(stream, caps.InputSampleRate, c.sendFunc(sctx, handle),
		pipeline.WithInputTap(c.inputTap))
	go c.runCapture(sctx, sc, pipe)
	go c.eventLoop(sc)

	return nil
}

// sendFunc wraps the session's audio send with frame accounting.
func (c *Controller) sendFunc(ctx context.Context, handle live.SessionHandle) pipeline.SendFunc {
	return func(pcm []byte) error {
		if err := handle.SendAudio(pcm); err != nil {
			return err
		}
		c.metrics.RecordCapturedFrame(ctx)
		return nil
	}
}

// runCapture drives the capture pipe until teardown or a send failure.
func (c *Controller) runCapture(ctx context.Context, sc *sessionContext, pipe *pipeline.CapturePipe) {
	err := pipe.Run(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	c.fail(sc, errors.Join(ErrChannelRuntime, err))
}

// eventLoop routes inbound channel events until the event channel closes.
// Each event is applied as one transaction: every field it carries takes
// effect before the next event is read.
func (c *Controller) eventLoop(sc *sessionContext) {
	ctx := context.Background()
	for ev := range sc.handle.Events() {
		if ev.DecodeErr != nil {
			// A malformed payload drops that chunk, not the session.
			c.logger.Warn("dropping undecodable audio chunk", "error", ev.DecodeErr)
			c.metrics.RecordDecodeFailure(ctx)
		}
		if ev.Interrupted {
			sc.scheduler.Flush()
			c.metrics.RecordInterruption(ctx)
		}
		if len(ev.Audio) > 0 {
			if start, ok := sc.scheduler.Enqueue(ev.Audio); ok {
				c.metrics.RecordScheduledChunk(ctx, start-sc.scheduler.Now())
			}
		}
		if ev.InputTranscript != "" {
			c.aggregator.AppendUser(ev.InputTranscript)
		}
		if ev.OutputTranscript != "" {
			c.aggregator.AppendAssistant(ev.OutputTranscript)
		}
		if ev.TurnComplete {
			if c.aggregator.CompleteTurn() {
				c.metrics.RecordTurnComplete(ctx)
			}
		}
		if ev.Err != nil {
			c.fail(sc, errors.Join(ErrChannelRuntime, ev.Err))
			return
		}
		if ev.Closed {
			c.logger.Info("remote closed the session")
			c.teardown(sc, StateDisconnected)
			return
		}
	}
}

// fail tears the session down after a runtime error and lands in the error
// state.
func (c *Controller) fail(sc *sessionContext, err error) {
	c.logger.Error("session failed", "error", err)
	c.metrics.RecordSessionError(context.Background(), "channel_runtime")
	c.teardown(sc, StateError)
}

// stop tears the current session down, landing in the disconnected state
// regardless of the state it started from. Caller holds opMu.
func (c *Controller) stop() error {
	c.mu.Lock()
	sc := c.current
	c.mu.Unlock()

	if sc == nil {
		if c.State() != StateDisconnected {
			c.setState(StateDisconnected)
		}
		return nil
	}
	c.teardown(sc, StateDisconnected)
	return nil
}

// teardown releases every resource of sc and transitions to target. Only the
// first caller for a given session context performs the release; late
// callers (a concurrent stop racing a runtime failure) are no-ops.
func (c *Controller) teardown(sc *sessionContext, target State) {
	c.mu.Lock()
	if c.current != sc {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	sc.cancel()
	if err := sc.resources.Release(); err != nil {
		c.logger.Warn("partial failure during teardown", "error", err)
	}
	// A turn cut off mid-accumulation dies with its session.
	c.aggregator.Reset()
	c.metrics.SessionEnded(context.Background())
	c.setState(target)
	c.logger.Info("session torn down", "state", string(target))
}

// setState updates the state and notifies the observer outside the lock.
func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}
