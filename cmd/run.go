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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/googlecloudplatform/taskrunner/cfg"
	"github.com/googlecloudplatform/taskrunner/common"
	"github.com/googlecloudplatform/taskrunner/internal/logger"
	"github.com/googlecloudplatform/taskrunner/internal/monitor"
	"github.com/googlecloudplatform/taskrunner/internal/ratelimit"
	"github.com/googlecloudplatform/taskrunner/internal/scheduler"
	"github.com/googlecloudplatform/taskrunner/internal/taskfile"
	"github.com/googlecloudplatform/taskrunner/metrics"
	"github.com/googlecloudplatform/taskrunner/tracing"
	"github.com/jacobsa/syncutil"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run is the production entry point used by Execute: tasks are read from
// taskFile, or from stdin in streaming mode.
func Run(c *cfg.Config, taskFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	unregister := releaseSignalsOnDone(ctx, stop)
	defer unregister()

	_, err := runTasks(ctx, c, taskFile, os.Stdin)
	return err
}

// releaseSignalsOnDone hands signal handling back to the runtime once ctx is
// done, so a second interrupt terminates the process. Running tasks are never
// cancelled; the first signal only stops reading new ones.
func releaseSignalsOnDone(ctx context.Context, stop context.CancelFunc) (unregister func() bool) {
	return context.AfterFunc(ctx, func() {
		logger.Warnf("Received signal, no further tasks will be read. Signal again to exit immediately.")
		stop()
	})
}

// runTasks sets up logging and telemetry, runs every task and returns the
// scheduler's final counters. The error is non-nil when the input could not
// be read or at least one task failed.
func runTasks(ctx context.Context, c *cfg.Config, taskFile string, stdin io.Reader) (scheduler.Stats, error) {
	if err := logger.InitLogFile(c.Logging); err != nil {
		return scheduler.Stats{}, fmt.Errorf("init log file: %w", err)
	}
	defer logger.Close()
	logger.Infof("Start taskrunner/%s", common.GetVersion())

	if c.Debug.ExitOnInvariantViolation {
		syncutil.EnableInvariantChecking()
	}

	shutdown := common.JoinShutdownFunc(
		monitor.SetupOTelMetricExporters(ctx, c),
		monitor.SetupTracing(ctx, c),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warnf("Error while shutting down telemetry: %v", err)
		}
	}()

	defaultPriority, err := scheduler.ParsePriority(string(c.Scheduler.DefaultPriority))
	if err != nil {
		return scheduler.Stats{}, err
	}

	s := scheduler.NewScheduler(
		scheduler.WithMetricHandle(newMetricHandle()),
		scheduler.WithTraceHandle(tracing.NewOTelTracer()),
		scheduler.WithThrottle(ratelimit.NewTaskThrottle(c.Scheduler.MaxTasksPerSec)),
	)
	names := &taskNames{byID: make(map[string]string)}

	if c.Executor.Stdin {
		err = runStream(ctx, s, names, stdin, c.Executor.Shell, defaultPriority)
	} else {
		err = runBatch(s, names, taskFile, c.Executor.Shell, defaultPriority)
	}

	stats := s.Stats()
	logger.Infof("Finished %d task(s) in %d round(s): %d succeeded, %d failed",
		stats.Succeeded+stats.Failed, stats.Rounds, stats.Succeeded, stats.Failed)
	return stats, err
}

func newMetricHandle() metrics.MetricHandle {
	mh, err := metrics.NewOTelMetrics()
	if err != nil {
		logger.Warnf("Failed to create metric handle, metrics are disabled: %v", err)
		return metrics.NewNoopMetrics()
	}
	return mh
}

// runBatch submits every task of the file and drains the scheduler once.
func runBatch(s *scheduler.Scheduler, names *taskNames, taskFile, shell string, defaultPriority scheduler.Priority) error {
	f, err := taskfile.Load(taskFile)
	if err != nil {
		return err
	}
	if err = f.Validate(defaultPriority); err != nil {
		return fmt.Errorf("%s: %w", taskFile, err)
	}

	for i := range f.Tasks {
		def := &f.Tasks[i]
		id := s.Submit(taskfile.NewCommandTask(def, shell), def.EffectivePriority())
		names.add(id, def.Name)
	}
	logger.Infof("Loaded %d task(s) from %s", len(f.Tasks), taskFile)

	return names.summarize(s.Drain())
}

// runStream submits task definitions as they are decoded from r while a
// Runner executes them in the background.
func runStream(ctx context.Context, s *scheduler.Scheduler, names *taskNames, r io.Reader, shell string, defaultPriority scheduler.Priority) error {
	failures := make(chan error, 1)
	runner := scheduler.NewRunner(s, func(err error) { failures <- err })
	runner.Start()

	var (
		stopErr error
		failed  []error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			stopErr = runner.Stop()
			close(failures)
		}()
		return submitStream(ctx, runner, names, r, shell, defaultPriority)
	})
	g.Go(func() error {
		for err := range failures {
			failed = append(failed, err)
		}
		return nil
	})

	readErr := g.Wait()
	failed = append(failed, stopErr)
	return errors.Join(readErr, names.summarize(errors.Join(failed...)))
}

type decodeResult struct {
	def *taskfile.Definition
	err error
}

// decodeAsync decodes definitions from dec on its own goroutine. It stops at
// the first error (io.EOF included) or once ctx is done; a read blocked in dec
// is abandoned rather than waited for.
func decodeAsync(ctx context.Context, dec *taskfile.Decoder) <-chan decodeResult {
	results := make(chan decodeResult)
	go func() {
		for {
			def, err := dec.Next()
			select {
			case results <- decodeResult{def, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return results
}

func submitStream(ctx context.Context, runner *scheduler.Runner, names *taskNames, r io.Reader, shell string, defaultPriority scheduler.Priority) error {
	// Unblock a pending read when possible.
	if c, ok := r.(io.Closer); ok {
		stopClose := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stopClose()
	}
	results := decodeAsync(ctx, taskfile.NewDecoder(r))

	for n := 0; ; n++ {
		var res decodeResult
		select {
		case <-ctx.Done():
			return fmt.Errorf("reading tasks: %w", ctx.Err())
		case res = <-results:
		}
		if errors.Is(res.err, io.EOF) {
			logger.Infof("Read %d task(s) from stdin", n)
			return nil
		}
		if res.err != nil {
			return res.err
		}
		def := res.def
		if err := def.Validate(defaultPriority); err != nil {
			return fmt.Errorf("document %d: %w", n+1, err)
		}
		id := runner.Submit(taskfile.NewCommandTask(def, shell), def.EffectivePriority())
		names.add(id, def.Name)
	}
}

// taskNames maps scheduler task IDs back to the names in the task
// definitions.
type taskNames struct {
	mu   sync.Mutex
	byID map[string]string
}

func (n *taskNames) add(id, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byID[id] = name
}

// summarize logs the name of every failed task found in err and returns an
// error counting them, or nil when err is nil.
func (n *taskNames) summarize(err error) error {
	if err == nil {
		return nil
	}
	taskErrs := collectTaskErrors(err)
	if len(taskErrs) == 0 {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, te := range taskErrs {
		logger.Errorf("Task %q (priority %s) failed: %v", n.byID[te.ID], te.Priority, te.Err)
	}
	return fmt.Errorf("%d task(s) failed", len(taskErrs))
}

// collectTaskErrors flattens joined errors into the *TaskError values they
// contain.
func collectTaskErrors(err error) []*scheduler.TaskError {
	switch e := err.(type) {
	case *scheduler.TaskError:
		return []*scheduler.TaskError{e}
	case interface{ Unwrap() []error }:
		var out []*scheduler.TaskError
		for _, inner := range e.Unwrap() {
			out = append(out, collectTaskErrors(inner)...)
		}
		return out
	}
	var te *scheduler.TaskError
	if errors.As(err, &te) {
		return []*scheduler.TaskError{te}
	}
	return nil
}
