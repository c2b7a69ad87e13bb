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
	"log/slog"
	"strings"
)

const (
	textTimeLayout = "02/01/2006 15:04:05.000000"

	severityKey  = "severity"
	messageKey   = "message"
	timestampKey = "timestamp"
)

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch strings.ToUpper(level) {
	// logs having severity >= the configured value will be logged.
	case "TRACE":
		programLevel.Set(LevelTrace)
	case "DEBUG":
		programLevel.Set(LevelDebug)
	case "INFO":
		programLevel.Set(LevelInfo)
	case "WARNING":
		programLevel.Set(LevelWarn)
	case "ERROR":
		programLevel.Set(LevelError)
	case "OFF":
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

func severityName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// customiseLevelAndMessage renames the built-in slog attributes to the
// severity/message/timestamp layout used in both text and json output, and
// prepends prefix to every message.
func customiseLevelAndMessage(json bool, prefix string) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			t := a.Value.Time()
			if json {
				return slog.Group(timestampKey,
					slog.Int64("seconds", t.Unix()),
					slog.Int("nanos", t.Nanosecond()))
			}
			return slog.String(slog.TimeKey, t.Format(textTimeLayout))
		case slog.LevelKey:
			level, _ := a.Value.Any().(slog.Level)
			return slog.String(severityKey, severityName(level))
		case slog.MessageKey:
			return slog.String(messageKey, prefix+a.Value.String())
		}
		return a
	}
}
