// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a repeating task registered with Loop.Every.
//
// Firings are coalesced: if a firing is still queued when the next tick
// arrives, the tick is dropped. After Cancel returns, no further firing of the
// timer's task starts, including firings already queued.
type Timer struct {
	loop     *Loop
	task     Task
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	pending atomic.Bool
	fired   atomic.Int64
}

// Interval returns the timer period.
func (t *Timer) Interval() time.Duration { return t.interval }

// Context returns the timer's cancellation token.
func (t *Timer) Context() context.Context { return t.ctx }

// Cancelled reports whether Cancel has been called or the loop stopped.
func (t *Timer) Cancelled() bool { return t.ctx.Err() != nil }

// Fired reports how many firings have been enqueued.
func (t *Timer) Fired() int64 { return t.fired.Load() }

// Cancel stops the timer. It is safe to call more than once and from any
// goroutine, including from inside the timer's own task.
func (t *Timer) Cancel() {
	t.once.Do(func() {
		t.cancel()
		t.loop.forget(t)
	})
}

func (t *Timer) tick(ticker Ticker) {
	defer t.loop.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			t.Cancel()
			return
		case <-ticker.C():
			if !t.pending.CompareAndSwap(false, true) {
				continue
			}
			t.fired.Add(1)
			if err := t.loop.enqueue(job{task: t.task, timer: t}); err != nil {
				t.Cancel()
				return
			}
		}
	}
}
