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
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// Attribute Keys
	// priorityKey specifies the priority a task was submitted with.
	priorityKey = attribute.Key("priority")
	// statusKey specifies whether a task succeeded or failed.
	statusKey = attribute.Key("status")

	priorityOptionCache,
	priorityStatusOptionCache sync.Map
)

type priorityStatus struct {
	priority, status string
}

func loadOrStoreAttrOption[K comparable](mp *sync.Map, key K, attrSetGenFunc func() attribute.Set) metric.MeasurementOption {
	attrSet, ok := mp.Load(key)
	if ok {
		return attrSet.(metric.MeasurementOption)
	}
	v, _ := mp.LoadOrStore(key, metric.WithAttributeSet(attrSetGenFunc()))
	return v.(metric.MeasurementOption)
}

func priorityAttrOption(priority string) metric.MeasurementOption {
	return loadOrStoreAttrOption(&priorityOptionCache, priority,
		func() attribute.Set {
			return attribute.NewSet(priorityKey.String(priority))
		})
}

func priorityStatusAttrOption(attr priorityStatus) metric.MeasurementOption {
	return loadOrStoreAttrOption(&priorityStatusOptionCache, attr,
		func() attribute.Set {
			return attribute.NewSet(priorityKey.String(attr.priority), statusKey.String(attr.status))
		})
}

// otelMetrics maintains the list of all metrics computed by the scheduler.
type otelMetrics struct {
	submittedCount metric.Int64Counter
	completedCount metric.Int64Counter
	taskLatency    metric.Float64Histogram
	roundSize      metric.Int64Histogram
}

func (o *otelMetrics) TaskSubmitted(ctx context.Context, priority string) {
	o.submittedCount.Add(ctx, 1, priorityAttrOption(priority))
}

func (o *otelMetrics) TaskCompleted(ctx context.Context, priority string, failed bool, latency time.Duration) {
	status := StatusSucceeded
	if failed {
		status = StatusFailed
	}
	o.completedCount.Add(ctx, 1, priorityStatusAttrOption(priorityStatus{priority, status}))
	o.taskLatency.Record(ctx, float64(latency.Microseconds())/1000, priorityAttrOption(priority))
}

func (o *otelMetrics) DrainRound(ctx context.Context, size int64) {
	o.roundSize.Record(ctx, size)
}

// NewOTelMetrics creates the scheduler instruments on the global meter
// provider. Call it after the provider has been installed.
func NewOTelMetrics() (MetricHandle, error) {
	taskMeter := otel.Meter("task")
	schedulerMeter := otel.Meter("scheduler")

	submittedCount, err1 := taskMeter.Int64Counter("task/submitted_count",
		metric.WithDescription("The cumulative number of tasks submitted to the scheduler."))
	completedCount, err2 := taskMeter.Int64Counter("task/completed_count",
		metric.WithDescription("The cumulative number of tasks executed by the scheduler, by outcome."))
	taskLatency, err3 := taskMeter.Float64Histogram("task/latency",
		metric.WithDescription("The execution latency of a task in milliseconds."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000))
	roundSize, err4 := schedulerMeter.Int64Histogram("scheduler/round_size",
		metric.WithDescription("The number of tasks selected by one drain round."),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 50, 100, 500, 1000))

	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}

	return &otelMetrics{
		submittedCount: submittedCount,
		completedCount: completedCount,
		taskLatency:    taskLatency,
		roundSize:      roundSize,
	}, nil
}
