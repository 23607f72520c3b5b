// Package app wires all Voxtide subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and records transcripts until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithInputDevice, WithStore, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxtide/voxtide/internal/config"
	"github.com/voxtide/voxtide/internal/health"
	"github.com/voxtide/voxtide/internal/observe"
	"github.com/voxtide/voxtide/internal/session"
	"github.com/voxtide/voxtide/pkg/audio"
	"github.com/voxtide/voxtide/pkg/audio/pcmio"
	"github.com/voxtide/voxtide/pkg/provider/live"
	"github.com/voxtide/voxtide/pkg/transcript"
	"github.com/voxtide/voxtide/pkg/transcript/postgres"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// defaultSessionID labels persisted transcript entries when the config does
// not name a session.
const defaultSessionID = "default"

// App owns all subsystem lifetimes and orchestrates the Voxtide voice session.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	registry   *config.Registry
	metrics    *observe.Metrics
	store      transcript.Store
	controller *session.Controller
	health     *health.Handler
	server     *http.Server

	// Injected by options; defaulted in New.
	input    audio.Device
	openLine session.LineOpener
	gatherer prometheus.Gatherer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithInputDevice injects a capture device instead of reading PCM from stdin.
func WithInputDevice(d audio.Device) Option {
	return func(a *App) { a.input = d }
}

// WithOpenLine injects a playback line opener instead of writing PCM to stdout.
func WithOpenLine(open session.LineOpener) Option {
	return func(a *App) { a.openLine = open }
}

// WithStore injects a transcript store instead of connecting to PostgreSQL.
func WithStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the process-global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry injects a provider registry instead of the default one.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithGatherer sets the Prometheus gatherer served at /metrics. Main passes
// the registry built by observe.InitProvider; without it the package-level
// default gatherer is served.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: transcript store connection,
// session controller construction, and HTTP route registration. The session
// itself is not started; Run (or the toggle endpoint) does that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.input == nil {
		a.input = pcmio.NewDevice(os.Stdin)
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}
	if a.openLine == nil {
		// Each session gets a fresh line; closing one session's line must
		// not poison the next session's output.
		a.openLine = func(_ context.Context, _ int) (audio.Line, error) {
			return pcmio.NewLine(os.Stdout), nil
		}
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript store: %w", err)
	}

	// ── 2. Session controller ────────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init session controller: %w", err)
	}

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the PostgreSQL transcript store when a DSN is configured
// and no store was injected. Without a DSN, transcripts stay in-process only.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Transcript.PostgresDSN
	if dsn == "" {
		slog.Info("no transcript DSN configured, persistence disabled")
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initController builds the session controller from the config and the
// registered provider factory.
func (a *App) initController() error {
	factory, err := a.registry.Live(a.cfg.Provider)
	if err != nil {
		return err
	}

	entry := a.cfg.Provider
	ctrl, err := session.NewController(session.Config{
		NewProvider: func(credential string) live.Provider {
			return factory(entry, credential)
		},
		Input:        a.input,
		OpenLine:     a.openLine,
		Credential:   a.cfg.Provider.APIKey,
		Voice:        a.cfg.Session.Voice,
		Instructions: a.cfg.Session.Instructions,
		FrameSize:    a.cfg.Session.FrameSize,
		Metrics:      a.metrics,
	})
	if err != nil {
		return err
	}
	a.controller = ctrl
	a.closers = append(a.closers, ctrl.Close)
	return nil
}

// initServer registers the HTTP routes and builds the server. All routes go
// through the observability middleware for tracing and request metrics.
func (a *App) initServer() {
	var checkers []health.Checker
	if pinger, ok := a.store.(interface {
		Ping(ctx context.Context) error
	}); ok {
		checkers = append(checkers, health.Checker{
			Name:  "transcript-store",
			Check: pinger.Ping,
		})
	}

	a.health = health.New(checkers...)
	a.health.SetStatus(func() map[string]any {
		return map[string]any{
			"state": string(a.controller.State()),
			"turns": a.controller.History().Len(),
		}
	})

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /session/toggle", a.handleToggle)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// handleToggle flips the session between connected and disconnected and
// reports the resulting state. A toggle arriving while a transition is in
// flight is a no-op and reports the current state.
func (a *App) handleToggle(w http.ResponseWriter, r *http.Request) {
	state, err := a.controller.Toggle(r.Context())
	resp := map[string]any{"state": string(state)}
	if err != nil {
		slog.Warn("session toggle failed", "err", err)
		resp["error"] = err.Error()
	}
	health.WriteJSON(w, http.StatusOK, resp)
}

// Handler returns the App's HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Controller returns the session controller. Exposed for tests and main.
func (a *App) Controller() *session.Controller { return a.controller }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and records completed transcript turns until ctx is
// cancelled. The voice session itself is driven by the toggle endpoint; Run
// does not auto-connect.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.recordTranscripts(gctx)
		return nil
	})

	return g.Wait()
}

// recordTranscripts drains the controller's completed-turn channel and writes
// entries to the transcript store. Persistence failures are logged, never
// fatal; the in-process history remains authoritative.
func (a *App) recordTranscripts(ctx context.Context) {
	sessionID := a.cfg.Transcript.SessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-a.controller.Completed():
			if a.store == nil {
				continue
			}
			if err := a.store.Append(ctx, sessionID, entry); err != nil {
				slog.Warn("failed to persist transcript entry", "err", err)
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		// Run closers in order. The controller's closer releases the live
		// session, capture stream, output line, and scheduler.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
