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

package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/googlecloudplatform/taskrunner/cfg"
	"github.com/googlecloudplatform/taskrunner/common"
	"github.com/googlecloudplatform/taskrunner/internal/logger"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "taskrunner"

// SetupOTelMetricExporters makes the task metrics observable. It always
// installs a global meter provider, so instruments created afterwards are
// live; the task counters and histograms are scraped from /metrics only when
// metrics.prometheus-port is set.
func SetupOTelMetricExporters(ctx context.Context, c *cfg.Config) common.ShutdownFn {
	var options []metric.Option
	var shutdownFns []common.ShutdownFn

	if port := c.Metrics.PrometheusPort; port > 0 {
		reader, srv, err := newPrometheusEndpoint(port)
		if err != nil {
			logger.Errorf("Task metrics won't be exported on port %d: %v", port, err)
		} else {
			options = append(options, metric.WithReader(reader))
			shutdownFns = append(shutdownFns, srv.shutdown)
		}
	}

	if res, err := taskrunnerResource(ctx); err != nil {
		logger.Warnf("Task metrics are exported without resource attributes: %v", err)
	} else {
		options = append(options, metric.WithResource(res))
	}

	provider := metric.NewMeterProvider(options...)
	otel.SetMeterProvider(provider)
	// The server must stop before the provider so that no scrape races the
	// provider shutdown.
	shutdownFns = append(shutdownFns, provider.Shutdown)
	return common.JoinShutdownFunc(shutdownFns...)
}

// metricsServer serves one prometheus registry over HTTP.
type metricsServer struct {
	srv  *http.Server
	done chan struct{}
}

// newPrometheusEndpoint creates an exporter backed by its own registry and
// starts serving it. The listener is bound before returning so that a busy
// port is reported to the caller instead of from a background goroutine.
func newPrometheusEndpoint(port int64) (metric.Reader, *metricsServer, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithoutUnits(),
		prometheus.WithoutCounterSuffixes(),
		prometheus.WithoutScopeInfo(),
		prometheus.WithoutTargetInfo(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("listening for scrapes: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s := &metricsServer{
		srv: &http.Server{
			Handler:        mux,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		done: make(chan struct{}),
	}
	go s.serve(l)
	logger.Infof("Task metrics available at localhost:%d/metrics", port)
	return exporter, s, nil
}

func (s *metricsServer) serve(l net.Listener) {
	defer close(s.done)
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Metrics endpoint stopped: %v", err)
	}
}

func (s *metricsServer) shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	if err != nil {
		return fmt.Errorf("stopping metrics endpoint: %w", err)
	}
	logger.Debugf("Metrics endpoint stopped")
	return nil
}

func taskrunnerResource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithProcessPID(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(common.GetVersion()),
		),
	)
}
