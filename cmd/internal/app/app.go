// Package app wires the ticketline agent runtime: config, logging, storage,
// the session coordinator, HTTP routes and the auth-state stream.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authapi "ticketline/cmd/internal/auth/api"
	"ticketline/cmd/internal/auth/session"
	"ticketline/cmd/internal/auth/state"
	"ticketline/cmd/internal/realtime"
)

// App is the agent runtime: it owns the store, the coordinator and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	backends *Backends
	store    *state.Store
	coord    *session.Coordinator
	hub      *realtime.Hub
	ws       *realtime.WSGateway
	registry *prometheus.Registry

	closeOnce sync.Once
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	backend  session.Backend
	backends *Backends
}

// WithSessionBackend replaces the HTTP backend client.
func WithSessionBackend(b session.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithBackends uses pre-built storage instead of opening cfg.Storage.
func WithBackends(b *Backends) Option {
	return func(o *options) { o.backends = b }
}

// New constructs a fully wired App. Nothing is hydrated or served until Run.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	sealer, err := NewSealerFromEnv(cfg, log)
	if err != nil {
		return nil, err
	}
	decoder, err := NewExpiryDecoder(cfg)
	if err != nil {
		return nil, err
	}

	backends := o.backends
	if backends == nil {
		backends, err = OpenBackends(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := session.NewMetrics(reg)

	store := NewStore(log, backends, sealer, state.WithPersistErrorHook(metrics.PersistFailed))

	backend := o.backend
	if backend == nil {
		client, err := authapi.NewClient(log, cfg.Backend, authapi.WithCredentialStorage(backends.Credentials, sealer))
		if err != nil {
			backends.Close()
			return nil, err
		}
		backend = client
	}

	coord, err := session.NewCoordinator(log, cfg.Session, store, backend,
		session.WithMetrics(metrics),
		session.WithExpiryDecoder(decoder),
	)
	if err != nil {
		backends.Close()
		return nil, err
	}

	hub := realtime.NewHub(log, store)

	return &App{
		cfg:      cfg,
		log:      log,
		backends: backends,
		store:    store,
		coord:    coord,
		hub:      hub,
		ws:       realtime.NewWSGateway(log, hub),
		registry: reg,
	}, nil
}

// Store returns the auth state store.
func (a *App) Store() *state.Store { return a.store }

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *session.Coordinator { return a.coord }

// Handler returns the full HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.store, a.coord, a.backends.Pool, a.ws,
		promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Boot runs the two-phase startup in the background: hydrate the store, then
// restore the session once. It also starts the snapshot file watcher.
func (a *App) Boot(ctx context.Context) {
	go func() {
		if err := a.store.Hydrate(ctx); err != nil {
			a.log.Warn("app.hydrate.fail", "err", err)
		}
	}()

	go a.coord.Start(ctx)

	if a.cfg.WatchStateFile && a.backends.File != nil {
		go func() {
			err := a.backends.File.Watch(ctx, a.log, func() {
				changed, err := a.store.Rehydrate(ctx)
				if err != nil {
					a.log.Warn("app.rehydrate.fail", "err", err)
					return
				}
				if changed {
					a.log.Info("app.rehydrate.ok")
				}
			})
			if err != nil {
				a.log.Warn("app.watch.fail", "err", err)
			}
		}()
	}
}

// Run serves HTTP and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"url", base,
		"ws_url", wsBaseURL(base)+"/ws/auth",
		"storage", a.cfg.Storage,
	)

	bootCtx, cancelBoot := context.WithCancel(ctx)
	defer cancelBoot()
	a.Boot(bootCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stream connections are hijacked and not tracked by Shutdown.
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close stops the scheduler, disconnects stream clients and releases storage.
// The persisted state is left as is.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.coord.Close()
		a.hub.Close()
		a.backends.Close()
	})
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to the IPv4 loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
