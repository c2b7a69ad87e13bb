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
	"fmt"
	"runtime/debug"

	"github.com/googlecloudplatform/taskrunner/internal/logger"
)

// ErrDrainInProgress is returned by Drain when another drain is already
// running on the same scheduler.
var ErrDrainInProgress = errors.New("drain already in progress")

// Task interface defines the contract for a runnable task.
type Task interface {
	Execute() error
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc func() error

func (f TaskFunc) Execute() error {
	return f()
}

// TaskError reports the failure of a single task.
type TaskError struct {
	ID       string
	Priority Priority
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (priority %s) failed: %v", e.ID, e.Priority, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// runTask executes t and converts a panic into an error so that one task can
// never take down the drain loop.
func runTask(id string, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Task %s panicked: %v\n%s", id, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Execute()
}
