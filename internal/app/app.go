// Package app wires all Audentra subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and runs the background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithRegistry, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/DanielWill-1/audentra/internal/api"
	"github.com/DanielWill-1/audentra/internal/compose"
	"github.com/DanielWill-1/audentra/internal/compose/llmparaphrase"
	"github.com/DanielWill-1/audentra/internal/config"
	"github.com/DanielWill-1/audentra/internal/engine"
	"github.com/DanielWill-1/audentra/internal/enhance/llmextract"
	"github.com/DanielWill-1/audentra/internal/health"
	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/internal/resilience"
	"github.com/DanielWill-1/audentra/internal/store"
	"github.com/DanielWill-1/audentra/internal/store/memstore"
	"github.com/DanielWill-1/audentra/internal/store/postgres"
	"github.com/DanielWill-1/audentra/internal/store/redisstore"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	reg      *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar
	store    store.Store
	eng      *engine.Engine
	handler  http.Handler
	server   *http.Server
	watcher  *config.Watcher
	checkers []health.Checker

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config.
// The caller keeps ownership of the store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry replaces the provider registry. The default registry holds
// the built-in providers.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.reg = reg }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable behind the process logger
// so that log_level edits apply without a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: session store,
// provider chains, the dialog engine and the HTTP handler.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltinProviders(a.reg)
	}

	// ── 1. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Providers ─────────────────────────────────────────────────────
	providers, err := buildProviders(cfg, a.reg, func(name string, from, to resilience.State) {
		logTransition(ctx, name, from, to)
		a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	a.checkers = append(a.checkers, providers.checkers...)

	// ── 3. Engine ────────────────────────────────────────────────────────
	a.eng = engine.New(a.store, a.engineOptions(providers)...)

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured session store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		a.checkers = append(a.checkers, health.PingChecker("store", a.store))
		return nil
	}

	sc := a.cfg.Store
	switch sc.Backend {
	case config.StorePostgres:
		st, err := postgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error {
			st.Close()
			return nil
		})
	case config.StoreRedis:
		st, err := redisstore.Dial(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB,
			redisstore.WithPrefix(sc.Redis.Prefix),
			redisstore.WithTTL(sc.Redis.TTL),
		)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	default:
		a.store = memstore.New()
	}
	slog.Info("session store ready", "backend", sc.Backend)
	a.checkers = append(a.checkers, health.PingChecker("store", a.store))
	return nil
}

// engineOptions translates the config into engine options.
func (a *App) engineOptions(ps *providerSet) []engine.Option {
	cfg := a.cfg
	opts := []engine.Option{
		engine.WithASR(ps.ASR),
		engine.WithTTS(ps.TTS),
		engine.WithVoice(VoiceFromConfig(cfg.Voice)),
		engine.WithTuning(TuningFromConfig(cfg.Dialog)),
		engine.WithMetrics(a.metrics),
	}

	if ps.LLM == nil {
		if cfg.Enhancement.Enabled || cfg.Paraphrase.Enabled {
			slog.Warn("llm features enabled but providers.llm is not configured; running rule-based only")
		}
		return opts
	}

	if cfg.Enhancement.Enabled {
		ext := llmextract.New(ps.LLM, llmextract.WithMaxConfidence(cfg.Enhancement.MaxCandidateConfidence))
		opts = append(opts,
			engine.WithEnhancer(ext, cfg.Enhancement.Timeout),
			engine.WithMaxEnhancerConfidence(cfg.Enhancement.MaxCandidateConfidence),
		)
		slog.Info("llm enhancement enabled", "timeout", cfg.Enhancement.Timeout)
	}

	if cfg.Paraphrase.Enabled {
		m := a.metrics
		c := compose.New(
			compose.WithParaphraser(llmparaphrase.New(ps.LLM)),
			compose.WithParaphraseTimeout(cfg.Paraphrase.Timeout),
			compose.WithParaphraseObserver(func(d time.Duration, err error) {
				m.RecordProviderCall(context.Background(), m.LLMDuration, "llm", "paraphrase", d, err,
					observe.Attr("stage", "paraphrase"))
			}),
		)
		opts = append(opts, engine.WithComposer(c))
		slog.Info("prompt paraphrasing enabled", "timeout", cfg.Paraphrase.Timeout)
	}
	return opts
}

// initHTTP builds the routed handler and the server around it.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	api.New(a.eng, api.WithMaxAudioBytes(a.cfg.Server.MaxAudioBytes)).Register(mux)
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully routed HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Engine returns the dialog engine.
func (a *App) Engine() *engine.Engine { return a.eng }

// Ready is closed once Run is listening.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound listen address, or nil before Run is listening.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Config reload ───────────────────────────────────────────────────────────

// WatchConfig makes Run poll path and apply log level and dialog edits
// without a restart. It must be called before Run.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.OnConfigChange, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	return nil
}

// OnConfigChange applies the hot-reloadable parts of a config edit.
func (a *App) OnConfigChange(_, newCfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DialogChanged {
		a.eng.SetTuning(TuningFromConfig(newCfg.Dialog))
		slog.Info("dialog tuning reloaded",
			"accept_threshold", newCfg.Dialog.AcceptThreshold,
			"idle_timeout", newCfg.Dialog.IdleTimeout,
		)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, sweeps idle sessions and watches the config file until
// ctx is cancelled. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: stop http server: %w", err)
		}
		return nil
	})

	if interval := a.cfg.Dialog.SweepInterval; interval > 0 {
		g.Go(func() error {
			return a.eng.Sweep(gctx, interval)
		})
	}

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown waits for in-flight enhancements and then closes subsystems in
// init order. It respects the context deadline: if ctx expires first, the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		done := make(chan struct{})
		go func() {
			a.eng.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while waiting for enhancements")
			shutdownErr = ctx.Err()
			return
		}

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

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
