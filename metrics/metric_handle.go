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

package metrics

import (
	"context"
	"time"
)

// Values for the status attribute of completed tasks.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// MetricHandle records scheduler activity. Implementations must be safe for
// concurrent use.
type MetricHandle interface {
	// TaskSubmitted counts one task entering the queue with the given priority.
	TaskSubmitted(ctx context.Context, priority string)

	// TaskCompleted counts one finished task and records how long it ran.
	TaskCompleted(ctx context.Context, priority string, failed bool, latency time.Duration)

	// DrainRound records the number of tasks selected by one round.
	DrainRound(ctx context.Context, size int64)
}
