package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chatsync/pkg/logger"
)

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and returns a
// cancellable context. The returned context is cancelled when any of the
// watched signals arrives. Use the cancel function to stop watching and
// to release resources.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
		cancel()
	}()

	return ctx, cancel
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// Hooks collects teardown steps during startup and runs them in reverse
// registration order, so the last-started component stops first.
type Hooks struct {
	mu    sync.Mutex
	hooks []hook
}

func (h *Hooks) Register(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Run executes every registered hook with a shared deadline. A failing
// hook is logged and the rest still run.
func (h *Hooks) Run(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	h.mu.Lock()
	hooks := make([]hook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		logger.Info("shutdown_step", "name", hooks[i].name)
		if err := hooks[i].fn(ctx); err != nil {
			logger.Error("shutdown_step_failed", "name", hooks[i].name, "error", err)
		}
	}
}
