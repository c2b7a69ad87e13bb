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

// Package scheduler runs submitted tasks one at a time in priority order.
//
// Work is processed in selection rounds. A round takes every task pending at
// the moment it starts and runs them high priority first, in submission order
// within a priority. Tasks submitted while a round runs wait for the next
// round, so a stream of high priority submissions cannot indefinitely delay a
// low priority task that was already selected.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/googlecloudplatform/taskrunner/internal/logger"
	"github.com/googlecloudplatform/taskrunner/internal/ratelimit"
	"github.com/googlecloudplatform/taskrunner/metrics"
	"github.com/googlecloudplatform/taskrunner/tracing"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// Stats holds cumulative counters for a Scheduler.
type Stats struct {
	Submitted uint64
	Succeeded uint64
	Failed    uint64
	Rounds    uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetricHandle records task metrics through mh.
func WithMetricHandle(mh metrics.MetricHandle) Option {
	return func(s *Scheduler) {
		if mh != nil {
			s.metrics = mh
		}
	}
}

// WithTraceHandle opens a span per drain and per task through th.
func WithTraceHandle(th tracing.TraceHandle) Option {
	return func(s *Scheduler) {
		if th != nil {
			s.tracer = th
		}
	}
}

// WithClock sets the clock used for queueing and execution latencies.
func WithClock(c timeutil.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithThrottle makes the scheduler take one token from t before starting each
// task.
func WithThrottle(t ratelimit.Throttle) Option {
	return func(s *Scheduler) {
		s.throttle = t
	}
}

// Scheduler accepts tasks tagged with a priority and executes them one at a
// time from Drain.
//
// Safe for concurrent access. Must be created with NewScheduler.
type Scheduler struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	clock    timeutil.Clock
	metrics  metrics.MetricHandle
	tracer   tracing.TraceHandle
	throttle ratelimit.Throttle
	newID    func() string

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Set while a Drain call is active.
	draining atomic.Bool

	// Guards the fields below. Never held while a task executes.
	mu syncutil.InvariantMutex

	// One FIFO per priority, indexed by Priority.
	//
	// INVARIANT: For each q, q.checkOrder() does not panic
	// GUARDED_BY(mu)
	queues [numPriorities]pendingQueue

	// Sequence number handed to the most recent submission.
	//
	// GUARDED_BY(mu)
	lastSeq uint64

	// Number of tasks taken out of the queues by the current round that have
	// not finished executing yet.
	//
	// INVARIANT: inFlight >= 0
	// GUARDED_BY(mu)
	inFlight int

	// GUARDED_BY(mu)
	stats Stats
}

// NewScheduler returns an empty scheduler. Without options it records no
// metrics or traces and does not throttle.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   timeutil.RealClock(),
		metrics: metrics.NewNoopMetrics(),
		tracer:  tracing.NewNoopTracer(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return s
}

// Submit enqueues task with the given priority and returns the identifier
// assigned to it. It never waits for task execution. A nil task is ignored and
// yields an empty identifier.
func (s *Scheduler) Submit(task Task, priority Priority) string {
	if task == nil {
		return ""
	}
	if !priority.Valid() {
		panic(fmt.Sprintf("scheduler: invalid priority %d", int(priority)))
	}

	id := s.newID()
	now := s.clock.Now()

	s.mu.Lock()
	s.lastSeq++
	s.queues[priority].push(&entry{
		id:       id,
		seq:      s.lastSeq,
		priority: priority,
		task:     task,
		queuedAt: now,
	})
	s.stats.Submitted++
	s.mu.Unlock()

	s.metrics.TaskSubmitted(context.Background(), priority.String())
	logger.Tracef("Submitted task %s with priority %s", id, priority)
	return id
}

// SubmitFunc is shorthand for Submit(TaskFunc(fn), priority).
func (s *Scheduler) SubmitFunc(fn func() error, priority Priority) string {
	if fn == nil {
		return ""
	}
	return s.Submit(TaskFunc(fn), priority)
}

// Drain processes every queued task to completion, including tasks submitted
// while it runs, and returns once a selection round starts with nothing
// pending.
//
// Each failing task is logged and does not stop the remaining ones. The
// returned error joins one *TaskError per failure and is nil when every task
// succeeded. Only one Drain runs at a time; a concurrent call returns
// ErrDrainInProgress immediately.
func (s *Scheduler) Drain() error {
	if !s.draining.CompareAndSwap(false, true) {
		return ErrDrainInProgress
	}
	defer s.draining.Store(false)

	ctx, span := s.tracer.StartSpan(context.Background(), "Drain")
	defer s.tracer.EndSpan(span)

	var errs []error
	for {
		round := s.selectRound()
		if len(round) == 0 {
			break
		}
		s.metrics.DrainRound(ctx, int64(len(round)))
		logger.Debugf("Starting selection round with %d task(s)", len(round))

		for _, e := range round {
			if err := s.execute(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.tracer.RecordError(span, err)
	}
	return err
}

// Len returns the number of tasks pending or running.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked() + s.inFlight
}

// Pending returns the number of tasks waiting at the given priority.
func (s *Scheduler) Pending(priority Priority) int {
	if !priority.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[priority].Len()
}

// Stats returns a snapshot of the cumulative counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(s.mu)
func (s *Scheduler) pendingLocked() int {
	n := 0
	for i := range s.queues {
		n += s.queues[i].Len()
	}
	return n
}

// selectRound moves every pending task out of the queues, highest priority
// first.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Scheduler) selectRound() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var round []*entry
	for _, p := range Priorities() {
		round = append(round, s.queues[p].takeAll()...)
	}
	if len(round) > 0 {
		s.inFlight += len(round)
		s.stats.Rounds++
	}
	return round
}

// execute runs a single selected task and reports its outcome.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	if s.throttle != nil {
		if err := s.throttle.Wait(ctx, 1); err != nil {
			logger.Warnf("Throttle wait for task %s: %v", e.id, err)
		}
	}

	ctx, span := s.tracer.StartSpan(ctx, "Task")
	defer s.tracer.EndSpan(span)
	s.tracer.SetTaskAttributes(span, e.id, e.priority.String())

	start := s.clock.Now()
	logger.Tracef("Running task %s (priority %s) after %v in queue", e.id, e.priority, start.Sub(e.queuedAt))
	err := runTask(e.id, e.task)
	latency := s.clock.Now().Sub(start)

	s.mu.Lock()
	s.inFlight--
	if err != nil {
		s.stats.Failed++
	} else {
		s.stats.Succeeded++
	}
	s.mu.Unlock()

	s.metrics.TaskCompleted(ctx, e.priority.String(), err != nil, latency)

	if err != nil {
		s.tracer.RecordError(span, err)
		logger.Errorf("Task %s (priority %s) failed after %v: %v", e.id, e.priority, latency, err)
		return &TaskError{ID: e.id, Priority: e.priority, Err: err}
	}
	logger.Debugf("Task %s (priority %s) completed in %v", e.id, e.priority, latency.Round(time.Microsecond))
	return nil
}

func (s *Scheduler) checkInvariants() {
	for i := range s.queues {
		s.queues[i].checkOrder()
		for e := s.queues[i].head; e != nil; e = e.next {
			if e.priority != Priority(i) {
				panic(fmt.Sprintf("task %s with priority %s queued as %s", e.id, e.priority, Priority(i)))
			}
		}
	}
	if s.inFlight < 0 {
		panic(fmt.Sprintf("negative in-flight count: %d", s.inFlight))
	}
	if done := s.stats.Succeeded + s.stats.Failed; done+uint64(s.pendingLocked()+s.inFlight) != s.stats.Submitted {
		panic(fmt.Sprintf("accounting mismatch: submitted %d, done %d, pending %d, in flight %d",
			s.stats.Submitted, done, s.pendingLocked(), s.inFlight))
	}
}
