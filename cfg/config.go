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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Debug DebugConfig `yaml:"debug"`

	Executor ExecutorConfig `yaml:"executor"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Monitoring MonitoringConfig `yaml:"monitoring"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
}

type ExecutorConfig struct {
	Shell string `yaml:"shell"`

	Stdin bool `yaml:"stdin"`
}

type LogRotateLoggingConfig struct {
	BackupFileCount int64 `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`

	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`
}

type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Severity LogSeverity `yaml:"severity"`
}

type MetricsConfig struct {
	PrometheusPort int64 `yaml:"prometheus-port"`
}

type MonitoringConfig struct {
	TracingMode string `yaml:"tracing-mode"`
}

type SchedulerConfig struct {
	DefaultPriority Priority `yaml:"default-priority"`

	MaxTasksPerSec float64 `yaml:"max-tasks-per-sec"`
}

// BindFlags registers every flag on flagSet and binds it to its config key in
// v.
func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var err error

	flagSet.BoolP("debug-invariants", "", false, "Exit when internal invariants of the scheduler are violated.")

	err = v.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants"))
	if err != nil {
		return err
	}

	flagSet.StringP("default-priority", "", "normal", "Priority given to tasks that do not specify one. Value can be 'high', 'normal' or 'low'.")

	err = v.BindPFlag("scheduler.default-priority", flagSet.Lookup("default-priority"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs. When not provided, logs are printed to stderr.")

	err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "The format of the log file: 'text' or 'json'.")

	err = v.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "The maximum number of backup log files to retain after they have been rotated. The default value is 10. When value is set to 0, all backup files are retained.")

	err = v.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count"))
	if err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Controls whether the rotated log files should be compressed using gzip.")

	err = v.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "The maximum size in megabytes that a log file can reach before it is rotated.")

	err = v.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")

	err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.Float64P("max-tasks-per-sec", "", 0, "Maximum number of tasks started per second. 0 means no limit.")

	err = v.BindPFlag("scheduler.max-tasks-per-sec", flagSet.Lookup("max-tasks-per-sec"))
	if err != nil {
		return err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics endpoint on this port and a path of /metrics.")

	err = v.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port"))
	if err != nil {
		return err
	}

	flagSet.StringP("shell", "", "/bin/sh", "Shell used to run task commands as '<shell> -c <command>'.")

	err = v.BindPFlag("executor.shell", flagSet.Lookup("shell"))
	if err != nil {
		return err
	}

	flagSet.BoolP("stdin", "", false, "Read task definitions as a stream of YAML documents from stdin and run them as they arrive.")

	err = v.BindPFlag("executor.stdin", flagSet.Lookup("stdin"))
	if err != nil {
		return err
	}

	flagSet.StringP("tracing-mode", "", "", "Tracing exporter to use. Value can be empty (disabled) or 'stdout'.")

	err = v.BindPFlag("monitoring.tracing-mode", flagSet.Lookup("tracing-mode"))
	if err != nil {
		return err
	}

	return nil
}
