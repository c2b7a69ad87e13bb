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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseCapacity(t *testing.T) {
	tests := []struct {
		name     string
		rateHz   float64
		expected int
	}{
		{name: "fractional rate rounds up", rateHz: 0.5, expected: 1},
		{name: "integral rate", rateHz: 20, expected: 20},
		{name: "non integral rate", rateHz: 2.1, expected: 3},
		{name: "huge rate is capped", rateHz: 1e12, expected: math.MaxInt32},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ChooseCapacity(tc.rateHz))
		})
	}
}

func TestNewTaskThrottle_Disabled(t *testing.T) {
	assert.Nil(t, NewTaskThrottle(0))
	assert.Nil(t, NewTaskThrottle(-3))
}

func TestNewTaskThrottle_Capacity(t *testing.T) {
	th := NewTaskThrottle(5)

	require.NotNil(t, th)
	assert.Equal(t, uint64(5), th.Capacity())
}

func TestThrottle_WaitPacesAfterBurst(t *testing.T) {
	// 50 Hz with a burst of 1: the second token is available after ~20ms.
	th := NewThrottle(50, 1)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, th.Wait(ctx, 1))
	require.NoError(t, th.Wait(ctx, 1))

	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestThrottle_WaitCancelled(t *testing.T) {
	th := NewThrottle(0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, th.Wait(ctx, 1))
	cancel()

	assert.Error(t, th.Wait(ctx, 1))
}
