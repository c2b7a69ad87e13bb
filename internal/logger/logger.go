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

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/googlecloudplatform/taskrunner/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Syslog-like levels on top of the ones slog defines.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

var (
	defaultLoggerFactory *loggerFactory
	defaultLogger        *slog.Logger
)

type loggerFactory struct {
	// If nil, log to stderr. Otherwise, log to this file.
	file   io.WriteCloser
	level  cfg.LogSeverity
	format string
}

// init initializes the logger factory to use stderr with text format.
func init() {
	defaultLoggerFactory = &loggerFactory{
		file:   nil,
		level:  cfg.InfoLogSeverity,
		format: "text",
	}
	defaultLogger = defaultLoggerFactory.newLogger("")
}

// InitLogFile initializes the logger factory from the logging config. When a
// file path is configured, logs go to that file and are rotated according to
// the log-rotate settings; otherwise they go to stderr.
func InitLogFile(newLogConfig cfg.LoggingConfig) error {
	var f io.WriteCloser
	if newLogConfig.FilePath != "" {
		f = &lumberjack.Logger{
			Filename:   string(newLogConfig.FilePath),
			MaxSize:    int(newLogConfig.LogRotate.MaxFileSizeMb),
			MaxBackups: int(newLogConfig.LogRotate.BackupFileCount),
			Compress:   newLogConfig.LogRotate.Compress,
		}
	}

	Close()
	defaultLoggerFactory = &loggerFactory{
		file:   f,
		level:  newLogConfig.Severity,
		format: newLogConfig.Format,
	}
	defaultLogger = defaultLoggerFactory.newLogger("")
	return nil
}

// Close closes the log file when necessary.
func Close() {
	if f := defaultLoggerFactory.file; f != nil {
		_ = f.Close()
		defaultLoggerFactory.file = nil
	}
}

// Tracef prints the message with TRACE severity in the specified format.
func Tracef(format string, v ...interface{}) {
	logf(LevelTrace, format, v...)
}

// Debugf prints the message with DEBUG severity in the specified format.
func Debugf(format string, v ...interface{}) {
	logf(LevelDebug, format, v...)
}

// Infof prints the message with INFO severity in the specified format.
func Infof(format string, v ...interface{}) {
	logf(LevelInfo, format, v...)
}

// Info prints the message with info severity.
func Info(message string, args ...any) {
	defaultLogger.Info(message, args...)
}

// Warnf prints the message with WARNING severity in the specified format.
func Warnf(format string, v ...interface{}) {
	logf(LevelWarn, format, v...)
}

// Errorf prints the message with ERROR severity in the specified format.
func Errorf(format string, v ...interface{}) {
	logf(LevelError, format, v...)
}

// Fatal prints an error log and exits with non-zero exit code.
func Fatal(format string, v ...interface{}) {
	Errorf(format, v...)
	Close()
	os.Exit(1)
}

func logf(level slog.Level, format string, v ...interface{}) {
	ctx := context.Background()
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, v...))
}

func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return f.file
	}
	return os.Stderr
}

func (f *loggerFactory) newLogger(prefix string) *slog.Logger {
	var programLevel = new(slog.LevelVar)
	l := slog.New(f.createJsonOrTextHandler(f.writer(), programLevel, prefix))
	setLoggingLevel(string(f.level), programLevel)
	return l
}

func (f *loggerFactory) createJsonOrTextHandler(writer io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: customiseLevelAndMessage(f.format == "json", prefix),
	}
	if f.format == "json" {
		return slog.NewJSONHandler(writer, opts)
	}
	return slog.NewTextHandler(writer, opts)
}
