// Package app wires the chatsync components together: storage, the
// ingest pipeline, presence tracking, the sweep job, and the HTTP
// surfaces. Startup is ordered so the applier is draining before any
// listener accepts traffic; shutdown runs the same order in reverse.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"chatsync/pkg/api"
	"chatsync/pkg/chat"
	"chatsync/pkg/config"
	"chatsync/pkg/feed"
	"chatsync/pkg/ingest"
	"chatsync/pkg/logger"
	"chatsync/pkg/presence"
	"chatsync/pkg/shutdown"
	"chatsync/pkg/store"
	"chatsync/pkg/sweep"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	version   string
	commit    string
	buildDate string

	queue   *ingest.Queue
	applier *ingest.Applier
	tracker *presence.Tracker
	svc     *chat.Service

	srv     *http.Server
	fastSrv *fasthttp.Server
	hooks   shutdown.Hooks
}

// New opens the store and builds the pipeline. It does not start the
// applier or listeners; call Run to start those and block until shutdown.
func New(cfg *config.Config, version, commit, buildDate string) (*App, error) {
	if err := store.Open(cfg.DBPath()); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.DBPath(), err)
	}

	hub := feed.NewHub()
	queue := ingest.NewQueue(cfg.QueueCapacity())
	applier := ingest.NewApplier(queue, hub)
	tracker := presence.NewTracker(queue, cfg.TypingClearAfter(), cfg.TypingStaleAfter())
	defWin, maxWin := cfg.WindowDefaults()
	svc := chat.New(queue, hub, tracker, defWin, maxWin)

	a := &App{
		cfg:       cfg,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		queue:     queue,
		applier:   applier,
		tracker:   tracker,
		svc:       svc,
	}
	a.hooks.Register("store", func(context.Context) error { return store.Close() })
	return a, nil
}

// Service exposes the wired chat service, used by in-process clients
// and tests.
func (a *App) Service() *chat.Service { return a.svc }

// Run starts the pipeline, the sweep job, and the HTTP servers, then
// blocks until ctx is cancelled or a listener fails. Teardown runs the
// registered hooks in reverse order with a shared deadline.
func (a *App) Run(ctx context.Context) error {
	a.applier.Start()
	a.hooks.Register("applier", func(context.Context) error {
		a.queue.CloseAndDrain()
		a.applier.Stop()
		return nil
	})
	a.hooks.Register("tracker", func(context.Context) error {
		a.tracker.Close()
		return nil
	})

	sweeper := sweep.New(a.tracker, a.cfg.SweepCron(), a.cfg.TypingStaleAfter(), a.cfg.OfflineAfter())
	stopSweep, err := sweeper.Start(ctx)
	if err != nil {
		a.hooks.Run(10 * time.Second)
		return err
	}
	a.hooks.Register("sweep", func(context.Context) error {
		stopSweep()
		return nil
	})

	a.printBanner()
	errCh := a.startHTTP()
	if fa := a.cfg.Server.FastPathAddress; fa != "" {
		a.startFastPath(fa, errCh)
	}

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
		if err == http.ErrServerClosed {
			err = nil
		}
	}
	a.shutdownServers()
	a.hooks.Run(10 * time.Second)
	return err
}

func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	logger.Info("chatsync_starting",
		"version", verStr,
		"addr", a.cfg.Addr(),
		"fastpath", a.cfg.Server.FastPathAddress,
		"db", a.cfg.DBPath(),
		"queue_capacity", a.cfg.QueueCapacity(),
	)
}

// startHTTP starts the main API server in a goroutine and returns a
// channel that will carry any listener error.
func (a *App) startHTTP() chan error {
	handler := api.New(a.svc).Router(a.cfg.Security.RateLimit.RPS, a.cfg.Security.RateLimit.Burst)
	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: handler}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http_listening", "addr", a.cfg.Addr())
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}

// startFastPath starts the fasthttp signal listener.
func (a *App) startFastPath(addr string, errCh chan error) {
	a.fastSrv = &fasthttp.Server{Handler: api.New(a.svc).FastPathHandler()}
	go func() {
		logger.Info("fastpath_listening", "addr", addr)
		if err := a.fastSrv.ListenAndServe(addr); err != nil {
			errCh <- err
		}
	}()
}

func (a *App) shutdownServers() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	if a.fastSrv != nil {
		if err := a.fastSrv.Shutdown(); err != nil {
			logger.Warn("fastpath_shutdown_error", "error", err)
		}
	}
}
