// Package app implements the multi-worker supervisor: several Workers
// running concurrently in one process with a shared middleware prefix,
// grounded on the teacher repo's cmd/worker/main.go single-worker bring-up
// (metrics server, signal handling, background scheduler) generalized to
// run any number of named Workers side by side.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tclesius/ltq"
	"github.com/tclesius/ltq/ltqlog"
	"github.com/tclesius/ltq/worker"
)

// App is an in-process supervisor for multiple Workers. Each Worker runs
// with its own goroutines, isolated from the others so one Worker's
// blocking behavior does not stall another.
type App struct {
	mu          sync.Mutex
	workers     map[string]*worker.Worker
	middlewares []ltq.Middleware
	logger      zerolog.Logger

	running bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds an empty App. Use WithMiddleware to set the app-level prefix
// before registering Workers.
func New(opts ...Option) *App {
	a := &App{
		workers: make(map[string]*worker.Worker),
		logger:  ltqlog.Log.With().Str("component", "app").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Option configures an App at construction time.
type Option func(*App)

// WithMiddleware sets the app-level middleware prefix prepended to every
// registered Worker's stack.
func WithMiddleware(mws ...ltq.Middleware) Option {
	return func(a *App) { a.middlewares = mws }
}

// WithLogger overrides the package logger.
func WithLogger(l zerolog.Logger) Option { return func(a *App) { a.logger = l } }

// RegisterWorker attaches the app-level middleware prefix to w and adds it
// to the supervised set under name. Must be called before Start.
func (a *App) RegisterWorker(name string, w *worker.Worker) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.workers[name]; exists {
		return fmt.Errorf("app: worker %q already registered", name)
	}
	w.SetAppMiddleware(a.middlewares)
	a.workers[name] = w
	return nil
}

// Worker returns the registered Worker named name, or nil if absent.
func (a *App) Worker(name string) *worker.Worker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workers[name]
}

// Start brings all registered Workers to the running state in parallel. It
// returns once every Worker's Run goroutine has been launched; it does not
// block until they stop.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopCh = make(chan struct{})
	workers := make([]*worker.Worker, 0, len(a.workers))
	for _, w := range a.workers {
		workers = append(workers, w)
	}
	a.mu.Unlock()

	for _, w := range workers {
		a.wg.Add(1)
		go func(w *worker.Worker) {
			defer a.wg.Done()
			if err := w.Run(runCtx); err != nil {
				a.logger.Error().Err(err).Str("worker", w.Name).Msg("worker exited with error")
			}
		}(w)
	}
}

// Run starts all registered Workers and blocks until Stop is called and
// drain completes. It gives App the same blocking Run(ctx) error shape as
// Worker, so both can be driven identically by a CLI run command.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)
	a.mu.Lock()
	stopCh := a.stopCh
	a.mu.Unlock()
	<-stopCh
	return nil
}

// Stop asks every registered Worker to shut down and waits for all of them
// to finish draining before returning (and before Run unblocks).
func (a *App) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	workers := make([]*worker.Worker, 0, len(a.workers))
	for _, w := range a.workers {
		workers = append(workers, w)
	}
	cancel := a.cancel
	stopCh := a.stopCh
	a.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	close(stopCh)
}
