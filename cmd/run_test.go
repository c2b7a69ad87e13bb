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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/googlecloudplatform/taskrunner/cfg"
	"github.com/googlecloudplatform/taskrunner/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(stdin bool) *cfg.Config {
	return &cfg.Config{
		Executor: cfg.ExecutorConfig{Shell: "/bin/sh", Stdin: stdin},
		Logging: cfg.LoggingConfig{
			Format:    "text",
			Severity:  cfg.ErrorLogSeverity,
			LogRotate: cfg.LogRotateLoggingConfig{MaxFileSizeMb: 1},
		},
		Scheduler: cfg.SchedulerConfig{DefaultPriority: cfg.NormalPriority},
	}
}

func writeTaskFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Fields(string(content))
}

func TestRunTasks_BatchRunsByPriority(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	taskFile := writeTaskFile(t, fmt.Sprintf(`
tasks:
  - name: A
    priority: low
    command: "echo A >> %[1]s"
  - name: B
    priority: high
    command: "echo B >> %[1]s"
  - name: C
    command: "echo C >> %[1]s"
`, out))

	stats, err := runTasks(context.Background(), testConfig(false), taskFile, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, readLines(t, out))
	assert.Equal(t, scheduler.Stats{Submitted: 3, Succeeded: 3, Rounds: 1}, stats)
}

func TestRunTasks_BatchReportsFailuresAndContinues(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	taskFile := writeTaskFile(t, fmt.Sprintf(`
tasks:
  - name: broken
    priority: high
    command: "exit 1"
  - name: after
    priority: low
    command: "echo after >> %s"
`, out))

	stats, err := runTasks(context.Background(), testConfig(false), taskFile, nil)

	assert.EqualError(t, err, "1 task(s) failed")
	assert.Equal(t, []string{"after"}, readLines(t, out))
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Succeeded)
}

func TestRunTasks_BatchInvalidTaskFile(t *testing.T) {
	taskFile := writeTaskFile(t, "tasks:\n  - name: a\n")

	_, err := runTasks(context.Background(), testConfig(false), taskFile, nil)

	assert.ErrorContains(t, err, "command is required")
}

func TestRunTasks_BatchMissingTaskFile(t *testing.T) {
	_, err := runTasks(context.Background(), testConfig(false), filepath.Join(t.TempDir(), "none.yaml"), nil)

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunTasks_StreamRunsEveryTask(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	stream := fmt.Sprintf(`
name: one
command: "echo one >> %[1]s"
---
name: two
priority: high
command: "echo two >> %[1]s"
---
name: three
priority: low
command: "exit 2"
`, out)

	stats, err := runTasks(context.Background(), testConfig(true), "", strings.NewReader(stream))

	assert.EqualError(t, err, "1 task(s) failed")
	assert.ElementsMatch(t, []string{"one", "two"}, readLines(t, out))
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestRunTasks_StreamDecodeError(t *testing.T) {
	stream := "name: a\ncommand: \"true\"\n---\nname: b\npriority: soon\ncommand: \"true\"\n"

	stats, err := runTasks(context.Background(), testConfig(true), "", strings.NewReader(stream))

	assert.ErrorContains(t, err, "decode task definition")
	assert.Equal(t, uint64(1), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Succeeded)
}

func TestCollectTaskErrors(t *testing.T) {
	te1 := &scheduler.TaskError{ID: "1", Err: errors.New("a")}
	te2 := &scheduler.TaskError{ID: "2", Err: errors.New("b")}
	joined := errors.Join(errors.Join(te1), nil, te2, errors.New("other"))

	got := collectTaskErrors(joined)

	assert.Equal(t, []*scheduler.TaskError{te1, te2}, got)
}

func TestRunTasks_StreamStopsReadingWhenContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := runTasks(ctx, testConfig(true), "", pr)
		done <- err
	}()
	_, err := io.WriteString(pw, "name: one\ncommand: \"true\"\n---\n")
	require.NoError(t, err)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("runTasks kept reading after its context was cancelled")
	}
}

func TestReleaseSignalsOnDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan struct{})
	releaseSignalsOnDone(ctx, func() { close(released) })

	cancel()

	select {
	case <-released:
	case <-time.After(10 * time.Second):
		t.Fatal("signal handling was not released after cancellation")
	}
}

func TestReleaseSignalsOnDone_Unregistered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	released := false
	unregister := releaseSignalsOnDone(ctx, func() { released = true })

	assert.True(t, unregister())
	cancel()

	assert.False(t, released)
}
