// Package scheduler implements the cron-driven producer that enqueues
// prototype Messages at scheduled instants, grounded on the teacher repo's
// Client.Schedule/StartCronScheduler (pkg/queue/client.go), generalized
// from a single shared *cron.Cron bolted onto the queue client into a
// standalone component any number of Workers or Apps can run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/tclesius/ltq"
	"github.com/tclesius/ltq/broker"
	"github.com/tclesius/ltq/ltqlog"
)

// entry records a registered cron expression together with the queue, task
// name, and args/kwargs from which a fresh Message is built on each fire.
type entry struct {
	spec     string
	queue    string
	taskName string
	args     []any
	kwargs   map[string]any
}

// Scheduler holds a list of (cron expression, prototype Message) pairs and
// fires them against a Broker. robfig/cron starts each due entry's job in
// its own goroutine, so the publish order of entries due at the same
// instant is not defined.
type Scheduler struct {
	br     broker.Broker
	cron   *cron.Cron
	logger zerolog.Logger

	entries []entry
}

// New builds a Scheduler backed by br, using seconds-resolution cron
// expressions as the teacher does (cron.WithSeconds()).
func New(br broker.Broker, opts ...Option) *Scheduler {
	s := &Scheduler{
		br:     br,
		cron:   cron.New(cron.WithSeconds()),
		logger: ltqlog.Log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger overrides the package logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// Register schedules task to run on spec, a standard (seconds-resolution)
// cron expression, publishing args/kwargs as a fresh Message each fire. It
// returns an error if spec cannot be parsed.
func (s *Scheduler) Register(spec string, task *ltq.Task, args []any, kwargs map[string]any) error {
	e := entry{spec: spec, queue: task.Queue, taskName: task.Name, args: args, kwargs: kwargs}

	var mu sync.Mutex
	pending := 0 // fires whose message has not been published yet
	_, err := s.cron.AddFunc(spec, func() {
		mu.Lock()
		defer mu.Unlock()
		pending++
		for pending > 0 {
			msg := task.MessageKw(kwargs, args...)
			bgCtx := context.Background()
			if pubErr := s.br.Publish(bgCtx, e.queue, msg, 0); pubErr != nil {
				s.logger.Error().Err(pubErr).Str("spec", spec).Str("task_name", e.taskName).Int("pending", pending).Msg("failed to enqueue scheduled message, retrying at next tick")
				return
			}
			pending--
			s.logger.Info().Str("spec", spec).Str("task_name", e.taskName).Msg("scheduled message enqueued")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron spec %q: %w", spec, err)
	}
	s.entries = append(s.entries, e)
	return nil
}

// Start runs the scheduler loop on the caller's goroutine, blocking until
// ctx is cancelled. Broker errors are logged and the tick continues; no
// schedule slot is dropped permanently: an entry whose publish failed
// publishes the missed message again, along with the new one, at its next
// tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
}

// StartBackground runs Start in a new goroutine and returns immediately.
func (s *Scheduler) StartBackground(ctx context.Context) {
	go s.Start(ctx)
}
