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
	"fmt"
	"os"

	"github.com/googlecloudplatform/taskrunner/cfg"
	"github.com/googlecloudplatform/taskrunner/common"
	"github.com/googlecloudplatform/taskrunner/internal/logger"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd accepts the function that runs the tasks once the config has been
// loaded and validated, and returns the cobra root command.
func NewRootCmd(runFn func(c *cfg.Config, taskFile string) error) (*cobra.Command, error) {
	var (
		configFile string
		v          = viper.New()
	)

	rootCmd := &cobra.Command{
		Use:   "taskrunner [flags] [task_file]",
		Short: "Run prioritized shell tasks one at a time",
		Long: `taskrunner executes the shell tasks listed in a YAML task file, highest
priority first and in file order within a priority. A failing task is reported
and does not stop the remaining ones. With --stdin, task definitions are read
as a stream of YAML documents and run as they arrive.`,
		Version: common.GetVersion(),
		Args:    cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}

			var taskFile string
			if len(args) > 0 {
				taskFile = args[0]
			}
			switch {
			case taskFile == "" && !c.Executor.Stdin:
				return fmt.Errorf("a task file is required unless --stdin is set")
			case taskFile != "" && c.Executor.Stdin:
				return fmt.Errorf("a task file can't be combined with --stdin")
			}

			// From here on failures are about the tasks, not the invocation.
			cmd.SilenceUsage = true
			return runFn(c, taskFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "Path to a YAML config file. Flags set on the command line take precedence over it.")
	if err := cfg.BindFlags(v, rootCmd.PersistentFlags()); err != nil {
		return nil, fmt.Errorf("error while binding flags: %w", err)
	}
	return rootCmd, nil
}

// loadConfig merges the config file, if any, underneath the flags bound to v
// and returns the validated result.
func loadConfig(v *viper.Viper, configFile string) (*cfg.Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error while reading the config file: %w", err)
		}
	}

	var c cfg.Config
	err := v.Unmarshal(&c, viper.DecodeHook(cfg.DecodeHook()), func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.TagName = "yaml"
		decoderConfig.ErrorUnused = true
	})
	if err != nil {
		return nil, fmt.Errorf("error while unmarshaling the config: %w", err)
	}

	if err = cfg.ValidateConfig(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// Execute runs the taskrunner command line and exits with a non-zero status on
// failure.
func Execute() {
	rootCmd, err := NewRootCmd(Run)
	if err != nil {
		logger.Fatal("Error while creating the root command: %v", err)
	}
	if err = rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
