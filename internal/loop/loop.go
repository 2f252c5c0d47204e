// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package loop provides the cooperative single-threaded scheduler that runs
// plugin method bodies, capability calls, render flushes and periodic timers.
//
// Every task submitted to a Loop executes on the loop's own goroutine, one at
// a time, in submission order. Periodic timers enqueue their firings onto the
// same queue, so no two callbacks ever run concurrently.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned when work is submitted to a loop that has stopped.
var ErrStopped = errors.New("loop stopped")

// Task is a unit of work executed on the loop goroutine. The context is the
// loop's context for plain tasks and the timer's cancellation token for
// timer firings.
type Task func(ctx context.Context) error

// Ticker abstracts time.Ticker so tests can drive periodic timers.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker for the given interval.
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func newStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// Option configures a Loop.
type Option func(*Loop)

// WithTickerFactory overrides how periodic timers obtain their tick source.
func WithTickerFactory(f TickerFactory) Option {
	return func(l *Loop) {
		l.newTicker = f
	}
}

// WithLogger sets the logger used for recovered task panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

type job struct {
	task  Task
	timer *Timer
	done  chan error
}

// Loop is a cooperative single-goroutine scheduler.
type Loop struct {
	newTicker TickerFactory
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []job
	timers  map[*Timer]struct{}
	hooks   map[int]func()
	nextID  int
	stopped bool

	wake      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	exited    chan struct{}
}

// New creates a loop. Call Start before submitting work.
func New(opts ...Option) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		newTicker: newStdTicker,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[*Timer]struct{}),
		hooks:     make(map[int]func()),
		wake:      make(chan struct{}, 1),
		exited:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop goroutine. Calling Start more than once is a no-op.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop cancels every timer, fails queued work with ErrStopped and waits for
// the loop goroutine and all tick goroutines to exit. Stop is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		timers := make([]*Timer, 0, len(l.timers))
		for t := range l.timers {
			timers = append(timers, t)
		}
		l.mu.Unlock()

		for _, t := range timers {
			t.Cancel()
		}
		l.cancel()

		// Start may never have been called; make sure run's exit signal fires.
		l.startOnce.Do(func() { close(l.exited) })
		<-l.exited
		l.wg.Wait()

		l.mu.Lock()
		pending := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, j := range pending {
			if j.done != nil {
				j.done <- ErrStopped
			}
		}
	})
}

// Submit enqueues a task without waiting for it.
func (l *Loop) Submit(task Task) error {
	return l.enqueue(job{task: task})
}

// Do enqueues a task and waits for it to finish, returning the task's error.
// Do must not be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	if err := l.enqueue(job{task: task, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterTask registers a hook that runs on the loop goroutine after every
// task. The returned function removes the hook.
func (l *Loop) AfterTask(hook func()) (remove func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.hooks[id] = hook
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.hooks, id)
		l.mu.Unlock()
	}
}

// Every registers a repeating task. The returned timer's context is passed to
// each firing and is cancelled by Timer.Cancel.
func (l *Loop) Every(interval time.Duration, task Task) (*Timer, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("loop: interval must be positive, got %s", interval)
	}

	ctx, cancel := context.WithCancel(l.ctx)
	t := &Timer{
		loop:     l,
		task:     task,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		cancel()
		return nil, ErrStopped
	}
	l.timers[t] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	ticker := l.newTicker(interval)
	go t.tick(ticker)
	return t, nil
}

// Timers reports how many timers are registered and not yet cancelled.
func (l *Loop) Timers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}

func (l *Loop) enqueue(j job) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, j)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *Loop) pop() (job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 || l.stopped {
		return job{}, false
	}
	j := l.queue[0]
	l.queue[0] = job{}
	l.queue = l.queue[1:]
	return j, true
}

func (l *Loop) run() {
	defer close(l.exited)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}
		for {
			j, ok := l.pop()
			if !ok {
				break
			}
			l.exec(j)
		}
	}
}

func (l *Loop) exec(j job) {
	ctx := l.ctx
	if j.timer != nil {
		j.timer.pending.Store(false)
		if j.timer.Cancelled() {
			// Firing was queued before Cancel; it must not run.
			return
		}
		ctx = j.timer.ctx
	}

	err := l.safeRun(ctx, j.task)

	l.mu.Lock()
	hooks := make([]func(), 0, len(l.hooks))
	for _, h := range l.hooks {
		hooks = append(hooks, h)
	}
	l.mu.Unlock()
	for _, h := range hooks {
		h()
	}

	if j.done != nil {
		j.done <- err
	}
}

func (l *Loop) safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r)
			err = fmt.Errorf("loop: task panicked: %v", r)
		}
	}()
	return task(ctx)
}
