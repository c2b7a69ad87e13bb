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

package cfg

import (
	"fmt"
	"math"
)

const (
	TracingModeStdout = "stdout"

	MaxPrometheusPort = math.MaxUint16
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLogFormat(format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported log format %q: must be text or json", format)
	}
	return nil
}

func isValidSchedulerConfig(config *SchedulerConfig) error {
	if config.MaxTasksPerSec < 0 || math.IsNaN(config.MaxTasksPerSec) {
		return fmt.Errorf("max-tasks-per-sec can't be negative")
	}
	var p Priority
	return p.UnmarshalText([]byte(config.DefaultPriority))
}

func isValidTracingMode(mode string) error {
	if mode != "" && mode != TracingModeStdout {
		return fmt.Errorf("unsupported tracing mode %q: must be empty or %q", mode, TracingModeStdout)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err = isValidLogFormat(config.Logging.Format); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if config.Metrics.PrometheusPort < 0 || config.Metrics.PrometheusPort > MaxPrometheusPort {
		return fmt.Errorf("error parsing metrics config: prometheus-port must be within [0, %d]", MaxPrometheusPort)
	}

	if err = isValidTracingMode(config.Monitoring.TracingMode); err != nil {
		return fmt.Errorf("error parsing monitoring config: %w", err)
	}

	if err = isValidSchedulerConfig(&config.Scheduler); err != nil {
		return fmt.Errorf("error parsing scheduler config: %w", err)
	}

	if config.Executor.Shell == "" {
		return fmt.Errorf("error parsing executor config: shell can't be empty")
	}

	return nil
}
