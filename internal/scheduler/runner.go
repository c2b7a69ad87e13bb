// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"errors"
	"sync"
	"time"
)

// How long the loop waits before retrying a wake-up that found another drain
// of the same scheduler already running.
const drainRetryDelay = 10 * time.Millisecond

// Runner drains a Scheduler from a background goroutine so producers only
// have to submit. The scheduler may still be drained directly by other
// callers; a wake-up that collides with such a drain is retried until the
// runner's own drain gets through.
type Runner struct {
	scheduler *Scheduler
	onError   func(error)

	// Buffered with capacity 1; a pending wake-up covers any number of
	// submissions.
	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	// Held for reading while submitting and for writing while stopping, so no
	// submission can land after the final drain.
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewRunner creates a runner for s. onError, if non-nil, receives the error
// returned by each background drain that had failing tasks.
func NewRunner(s *Scheduler, onError func(error)) *Runner {
	return &Runner{
		scheduler: s,
		onError:   onError,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background drain loop. Calling it more than once has no
// further effect.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	go r.loop()
}

// Submit enqueues task on the underlying scheduler and wakes the drain loop.
// It panics if the runner has been stopped.
func (r *Runner) Submit(task Task, priority Priority) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		panic("scheduler: submit on stopped runner")
	}

	id := r.scheduler.Submit(task, priority)
	r.rearm()
	return id
}

// Stop refuses further submissions, waits for the loop to exit and runs a
// final drain over whatever is still queued. It returns the error of that
// final drain.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stop)
	if started {
		<-r.done
	}

	return r.scheduler.Drain()
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.drain()
		case <-r.stop:
			return
		}
	}
}

func (r *Runner) drain() {
	err := r.scheduler.Drain()
	if errors.Is(err, ErrDrainInProgress) {
		time.AfterFunc(drainRetryDelay, r.rearm)
		return
	}
	if err == nil {
		return
	}
	if r.onError != nil {
		r.onError(err)
	}
}

func (r *Runner) rearm() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
