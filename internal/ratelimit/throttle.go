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

package ratelimit

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// A simple interface for limiting the rate of some event, here the start of a
// task.
//
// Safe for concurrent access.
type Throttle interface {
	// Return the maximum number of tokens that can be requested in a call to
	// Wait.
	Capacity() (c uint64)

	// Acquire the given number of tokens from the underlying token bucket, then
	// sleep until when it says to wake. If the context is cancelled before then,
	// return early with an error.
	//
	// REQUIRES: tokens <= capacity
	Wait(ctx context.Context, tokens uint64) (err error)
}

type limiter struct {
	*rate.Limiter
}

func NewThrottle(
	rateHz float64,
	capacity int) (t Throttle) {
	typed := &limiter{rate.NewLimiter(rate.Limit(rateHz), capacity)}
	t = typed
	return
}

// NewTaskThrottle returns a throttle admitting at most tasksPerSec task starts
// per second, with a burst of one second's worth of tasks. It returns nil when
// tasksPerSec is not positive, meaning no throttling.
func NewTaskThrottle(tasksPerSec float64) Throttle {
	if tasksPerSec <= 0 {
		return nil
	}
	return NewThrottle(tasksPerSec, ChooseCapacity(tasksPerSec))
}

// ChooseCapacity picks a token bucket capacity for the given rate: one second
// of tokens, and never less than one.
func ChooseCapacity(rateHz float64) int {
	c := math.Ceil(rateHz)
	if c < 1 || math.IsNaN(c) {
		return 1
	}
	if c > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(c)
}

func (l *limiter) Capacity() (c uint64) {
	return uint64(l.Burst())
}

func (l *limiter) Wait(
	ctx context.Context,
	tokens uint64) (err error) {
	return l.WaitN(ctx, int(tokens))
}
