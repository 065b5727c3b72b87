// Package worker implements the LTQ consumption loop: bounded concurrency,
// the middleware pipeline, and outcome translation into ack/nack, grounded
// on the teacher repo's cmd/worker/main.go dequeue-process-ack loop but
// generalized from one hardcoded switch over task.Type into a registered
// task table and a composable middleware stack.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tclesius/ltq"
	"github.com/tclesius/ltq/broker"
	"github.com/tclesius/ltq/ltqlog"
	"github.com/tclesius/ltq/metrics"
	"github.com/tclesius/ltq/middleware"
)

// defaultConcurrency matches the spec's documented default permit capacity.
const defaultConcurrency = 100

// defaultBlockTimeout bounds how long one Consume call waits for a message,
// chosen small so shutdown stays responsive.
const defaultBlockTimeout = 2 * time.Second

// defaultDrainDeadline bounds how long Stop waits for in-flight processing
// before cooperatively cancelling it and nacking what remains.
const defaultDrainDeadline = 30 * time.Second

// defaultRecoverGrace is the lease age Worker.Run uses for its startup
// recover() call when none is configured; the spec leaves this
// implementation-chosen (§9 Open Questions (i)).
const defaultRecoverGrace = 5 * time.Minute

// defaultConsumeBackoff is the pause between retries after a transient
// broker error during consume, per spec §7's "broker transient" handling.
const defaultConsumeBackoff = 500 * time.Millisecond

type inFlightEntry struct {
	queue string
	msg   ltq.Message
}

// Worker consumes from the union of its registered tasks' queues, enforces
// a concurrency limit, drives the middleware pipeline around each task
// body, and translates outcomes into ack/nack against its broker.
type Worker struct {
	Name string

	workerID string
	br       broker.Broker
	logger   zerolog.Logger

	tasks  map[string]*ltq.Task // task_name -> Task
	queues map[string]bool      // distinct queue names across registered tasks

	workerMiddlewares []ltq.Middleware // installed via WithMiddleware; default stack if unset
	appMiddlewares    []ltq.Middleware // prepended by an owning App

	metrics *metrics.Metrics // nil unless WithMetrics is supplied

	concurrency    int
	blockTimeout   time.Duration
	drainDeadline  time.Duration
	recoverGrace   time.Duration
	consumeBackoff time.Duration

	sem chan struct{}

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	procCtx   context.Context
	procStop  context.CancelFunc
	wg        sync.WaitGroup
	inFlight  map[string]inFlightEntry
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithConcurrency overrides the default 100-permit capacity.
func WithConcurrency(n int) Option { return func(w *Worker) { w.concurrency = n } }

// WithLogger overrides the package logger with a caller-supplied one,
// typically already tagged with component/service fields.
func WithLogger(l zerolog.Logger) Option { return func(w *Worker) { w.logger = l } }

// WithMiddleware overrides the default [MaxTries, MaxAge, MaxRate] stack.
func WithMiddleware(mws ...ltq.Middleware) Option {
	return func(w *Worker) { w.workerMiddlewares = mws }
}

// WithBlockTimeout overrides how long one Consume call waits for a message.
func WithBlockTimeout(d time.Duration) Option { return func(w *Worker) { w.blockTimeout = d } }

// WithDrainDeadline overrides how long Stop waits for in-flight processing.
func WithDrainDeadline(d time.Duration) Option { return func(w *Worker) { w.drainDeadline = d } }

// WithRecoverGrace overrides the lease age used by the startup recover call.
func WithRecoverGrace(d time.Duration) Option { return func(w *Worker) { w.recoverGrace = d } }

// WithMetrics attaches a Metrics instance so Run instruments processed
// counts, task duration, and queue latency. Without it the worker runs
// uninstrumented.
func WithMetrics(m *metrics.Metrics) Option { return func(w *Worker) { w.metrics = m } }

// New builds a Worker named name (used for default queue naming:
// "{name}:{function}") backed by br. A fresh worker_id is generated.
func New(name string, br broker.Broker, opts ...Option) *Worker {
	w := &Worker{
		Name:           name,
		workerID:       uuid.New().String(),
		br:             br,
		logger:         ltqlog.Log.With().Str("component", "worker").Str("worker", name).Logger(),
		tasks:          make(map[string]*ltq.Task),
		queues:         make(map[string]bool),
		concurrency:    defaultConcurrency,
		blockTimeout:   defaultBlockTimeout,
		drainDeadline:  defaultDrainDeadline,
		recoverGrace:   defaultRecoverGrace,
		consumeBackoff: defaultConsumeBackoff,
		inFlight:       make(map[string]inFlightEntry),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.workerMiddlewares == nil {
		w.workerMiddlewares = middleware.Default()
	}
	w.sem = make(chan struct{}, w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.sem <- struct{}{}
	}
	return w
}

// WorkerID returns the unique-per-process-run identifier used to own
// in-flight leases on the broker.
func (w *Worker) WorkerID() string { return w.workerID }

// Concurrency returns the permit capacity this worker was constructed with.
func (w *Worker) Concurrency() int { return w.concurrency }

// Register binds fn to a task named funcName under this worker's own queue
// ("{worker.Name}:{funcName}") and options, and returns the Task handle
// producers use to Send. Must be called before Run.
func (w *Worker) Register(funcName string, fn ltq.Fn, opts ltq.TaskOptions) *ltq.Task {
	return w.RegisterQueue(w.Name, funcName, fn, opts)
}

// RegisterQueue is Register with an explicit shared queue name instead of
// the worker's own name, for tasks multiple workers contend over.
func (w *Worker) RegisterQueue(queue, funcName string, fn ltq.Fn, opts ltq.TaskOptions) *ltq.Task {
	name := queue + ":" + funcName
	task := ltq.NewTask(name, queue, fn, opts, w.br)
	w.tasks[name] = task
	w.queues[queue] = true
	return task
}

// SetAppMiddleware installs the middleware prefix an owning App prepends to
// this worker's stack, so app-level middlewares form the outer layers.
func (w *Worker) SetAppMiddleware(mws []ltq.Middleware) { w.appMiddlewares = mws }

// stack returns the full, ordered middleware pipeline: app middlewares
// outermost, then this worker's own.
func (w *Worker) stack() []ltq.Middleware {
	out := make([]ltq.Middleware, 0, len(w.appMiddlewares)+len(w.workerMiddlewares))
	out = append(out, w.appMiddlewares...)
	out = append(out, w.workerMiddlewares...)
	return out
}

// Run brings the worker to the running state: it recovers leases older than
// the recover grace, then starts one consumption fiber per registered queue
// and blocks until ctx is cancelled or Stop is called. It returns once
// in-flight processing has drained.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker %q already running", w.Name)
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.procCtx, w.procStop = context.WithCancel(context.Background())
	w.mu.Unlock()

	for queue := range w.queues {
		if _, err := w.br.Recover(ctx, queue, w.recoverGrace); err != nil {
			w.logger.Warn().Err(err).Str("queue", queue).Msg("startup recover failed")
		}
	}

	var fibers sync.WaitGroup
	for queue := range w.queues {
		fibers.Add(1)
		go func(queue string) {
			defer fibers.Done()
			w.consumeFiber(queue)
		}(queue)
	}

	if w.metrics != nil {
		fibers.Add(1)
		go func() {
			defer fibers.Done()
			w.pollQueueDepth()
		}()
	}

	select {
	case <-w.stopCh:
	case <-ctx.Done():
		w.Stop()
	}
	fibers.Wait()
	w.drain()
	return nil
}

// pollQueueDepth periodically refreshes the queue-depth gauge for each
// registered queue until the worker stops.
func (w *Worker) pollQueueDepth() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			for queue := range w.queues {
				n, err := w.br.Size(w.procCtx, queue)
				if err != nil {
					continue
				}
				w.metrics.QueueDepth.WithLabelValues(queue).Set(float64(n))
			}
		}
	}
}

// Stop ceases new leases and returns once shutdown is initiated; it does not
// wait for drain. Run then waits for in-flight processing, up to the
// configured drain deadline, and returns when drain completes, so callers
// that need to know when drain is done wait for Run to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()
}

// drain waits for in-flight message processing to finish, up to
// drainDeadline; anything still running past the deadline is cooperatively
// cancelled and its message nacked with zero delay so another worker can
// pick it up.
func (w *Worker) drain() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(w.drainDeadline):
	}

	w.procStop()

	w.mu.Lock()
	remaining := make([]inFlightEntry, 0, len(w.inFlight))
	for _, e := range w.inFlight {
		remaining = append(remaining, e)
	}
	w.mu.Unlock()

	for _, e := range remaining {
		bgCtx := context.Background()
		if err := w.br.Nack(bgCtx, e.queue, w.workerID, e.msg, 0, false); err != nil {
			w.logger.Error().Err(err).Str("queue", e.queue).Str("message_id", e.msg.ID).Msg("failed to nack undrained message")
		}
	}
}

// consumeFiber runs the per-queue acquire-consume-spawn loop described in
// spec §4.4: acquire up to concurrency permits, consume that many due
// Messages, spawn one processing goroutine per Message holding one permit
// each, and loop immediately.
func (w *Worker) consumeFiber(queue string) {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		var k int
		select {
		case <-w.sem:
			k = 1
		case <-w.stopCh:
			return
		}
	batch:
		for k < w.concurrency {
			select {
			case <-w.sem:
				k++
			default:
				break batch
			}
		}

		msgs, err := w.br.Consume(w.procCtx, queue, w.workerID, k, w.blockTimeout)
		if err != nil {
			w.logger.Error().Err(err).Str("queue", queue).Msg("consume failed, retrying after backoff")
			w.release(k)
			time.Sleep(w.consumeBackoff)
			continue
		}

		w.release(k - len(msgs))

		for _, m := range msgs {
			msg := m
			w.trackInFlight(queue, msg)
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer w.release(1)
				defer w.untrackInFlight(msg.ID)
				w.process(queue, msg)
			}()
		}
	}
}

func (w *Worker) release(n int) {
	for i := 0; i < n; i++ {
		w.sem <- struct{}{}
	}
}

func (w *Worker) trackInFlight(queue string, msg ltq.Message) {
	w.mu.Lock()
	w.inFlight[msg.ID] = inFlightEntry{queue: queue, msg: msg}
	w.mu.Unlock()
}

func (w *Worker) untrackInFlight(id string) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
}

// process runs the full middleware pipeline around the task body for msg
// and translates the outcome into ack/nack, per the spec's outcome table.
func (w *Worker) process(queue string, msg ltq.Message) {
	task, ok := w.tasks[msg.TaskName]
	if !ok {
		w.logger.Error().Str("task_name", msg.TaskName).Msg("no task registered for message, dropping")
		if err := w.br.Nack(w.procCtx, queue, w.workerID, msg, 0, true); err != nil {
			w.logger.Error().Err(err).Msg("nack failed for unroutable message")
		}
		return
	}

	if w.metrics != nil {
		w.metrics.QueueLatency.WithLabelValues(task.Name).Observe(time.Since(msg.CreatedAt).Seconds())
	}

	body := func(ctx context.Context, m *ltq.Message) error {
		return task.Fn(ctx, m.Args, m.Kwargs)
	}
	run := ltq.Chain(w.stack(), task, body)

	start := time.Now()
	err := run(w.procCtx, &msg)
	if w.metrics != nil {
		w.metrics.Duration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())
	}
	w.updateInFlight(msg)

	switch {
	case err == nil:
		w.observe("ack", task.Name)
		if ackErr := w.br.Ack(w.procCtx, queue, w.workerID, msg); ackErr != nil {
			w.logger.Error().Err(ackErr).Str("message_id", msg.ID).Msg("ack failed")
		}

	case isRetry(err):
		w.observe("retry", task.Name)
		var re *ltq.RetryError
		errors.As(err, &re)
		if nackErr := w.br.Nack(w.procCtx, queue, w.workerID, msg, re.Delay.Milliseconds(), false); nackErr != nil {
			w.logger.Error().Err(nackErr).Str("message_id", msg.ID).Msg("nack (retry) failed")
		}

	case isReject(err):
		w.observe("reject", task.Name)
		var rj *ltq.RejectError
		errors.As(err, &rj)
		w.logger.Warn().Str("message_id", msg.ID).Str("task_name", msg.TaskName).Str("reason", rj.Reason).Msg("message rejected")
		if nackErr := w.br.Nack(w.procCtx, queue, w.workerID, msg, 0, true); nackErr != nil {
			w.logger.Error().Err(nackErr).Str("message_id", msg.ID).Msg("nack (reject) failed")
		}

	default:
		w.observe("error", task.Name)
		w.logger.Error().Err(err).Str("message_id", msg.ID).Str("task_name", msg.TaskName).Msg("task failed")
		if nackErr := w.br.Nack(w.procCtx, queue, w.workerID, msg, 0, true); nackErr != nil {
			w.logger.Error().Err(nackErr).Str("message_id", msg.ID).Msg("nack (error) failed")
		}
	}
}

// observe increments the processed counter for outcome/taskName if metrics
// are attached; a no-op otherwise.
func (w *Worker) observe(outcome, taskName string) {
	if w.metrics == nil {
		return
	}
	w.metrics.Processed.WithLabelValues(outcome, taskName).Inc()
}

// updateInFlight refreshes the tracked copy of msg so a late drain-timeout
// nack carries whatever Ctx mutations the pipeline made (e.g. MaxTries'
// incremented try count).
func (w *Worker) updateInFlight(msg ltq.Message) {
	w.mu.Lock()
	if e, ok := w.inFlight[msg.ID]; ok {
		e.msg = msg
		w.inFlight[msg.ID] = e
	}
	w.mu.Unlock()
}

func isRetry(err error) bool {
	var re *ltq.RetryError
	return errors.As(err, &re)
}

func isReject(err error) bool {
	var rj *ltq.RejectError
	return errors.As(err, &rj)
}
