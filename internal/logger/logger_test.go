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
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/googlecloudplatform/taskrunner/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString   = "^time=\"[0-9/:. ]{26}\" severity=TRACE message=\"TestLogs: www.traceExample.com\""
	textDebugString   = "^time=\"[0-9/:. ]{26}\" severity=DEBUG message=\"TestLogs: www.debugExample.com\""
	textInfoString    = "^time=\"[0-9/:. ]{26}\" severity=INFO message=\"TestLogs: www.infoExample.com\""
	textWarningString = "^time=\"[0-9/:. ]{26}\" severity=WARNING message=\"TestLogs: www.warningExample.com\""
	textErrorString   = "^time=\"[0-9/:. ]{26}\" severity=ERROR message=\"TestLogs: www.errorExample.com\""

	jsonTraceString   = "^{\"timestamp\":{\"seconds\":\\d{10},\"nanos\":\\d{0,9}},\"severity\":\"TRACE\",\"message\":\"TestLogs: www.traceExample.com\"}"
	jsonDebugString   = "^{\"timestamp\":{\"seconds\":\\d{10},\"nanos\":\\d{0,9}},\"severity\":\"DEBUG\",\"message\":\"TestLogs: www.debugExample.com\"}"
	jsonInfoString    = "^{\"timestamp\":{\"seconds\":\\d{10},\"nanos\":\\d{0,9}},\"severity\":\"INFO\",\"message\":\"TestLogs: www.infoExample.com\"}"
	jsonWarningString = "^{\"timestamp\":{\"seconds\":\\d{10},\"nanos\":\\d{0,9}},\"severity\":\"WARNING\",\"message\":\"TestLogs: www.warningExample.com\"}"
	jsonErrorString   = "^{\"timestamp\":{\"seconds\":\\d{10},\"nanos\":\\d{0,9}},\"severity\":\"ERROR\",\"message\":\"TestLogs: www.errorExample.com\"}"
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

// //////////////////////////////////////////////////////////////////////
// Boilerplate
// //////////////////////////////////////////////////////////////////////

func redirectLogsToGivenBuffer(buf *bytes.Buffer, level string, format string) {
	var programLevel = new(slog.LevelVar)
	factory := &loggerFactory{format: format}
	defaultLogger = slog.New(factory.createJsonOrTextHandler(buf, programLevel, "TestLogs: "))
	setLoggingLevel(level, programLevel)
}

// fetchLogOutputForSpecifiedSeverityLevel takes configured severity and
// functions that write logs as parameter and returns string array containing
// output from each function call.
func fetchLogOutputForSpecifiedSeverityLevel(level string, format string, functions []func()) []string {
	// create a logger that writes to buffer at configured level.
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, level, format)

	var output []string
	// run the functions provided.
	for _, f := range functions {
		f()
		output = append(output, buf.String())
		buf.Reset()
	}
	return output
}

func getTestLoggingFunctions() []func() {
	return []func(){
		func() {
			Tracef("www.traceExample.com")
		},
		func() {
			Debugf("www.debugExample.com")
		},
		func() {
			Infof("www.infoExample.com")
		},
		func() {
			Warnf("www.warningExample.com")
		},
		func() {
			Errorf("www.errorExample.com")
		},
	}
}

func validateOutput(t *testing.T, expected []string, output []string) {
	t.Helper()
	require.Len(t, output, len(expected))
	for i := range output {
		if expected[i] == "" {
			assert.Equal(t, expected[i], output[i])
		} else {
			assert.Regexp(t, regexp.MustCompile(expected[i]), output[i])
		}
	}
}

func (t *LoggerTest) TearDownTest() {
	defaultLoggerFactory = &loggerFactory{level: cfg.InfoLogSeverity, format: "text"}
	defaultLogger = defaultLoggerFactory.newLogger("")
}

// //////////////////////////////////////////////////////////////////////
// Tests
// //////////////////////////////////////////////////////////////////////

func (t *LoggerTest) TestTextFormatLogs_LogLevelOFF() {
	var expected = []string{"", "", "", "", ""}

	output := fetchLogOutputForSpecifiedSeverityLevel("OFF", "text", getTestLoggingFunctions())

	validateOutput(t.T(), expected, output)
}

func (t *LoggerTest) TestTextFormatLogs_LogLevelERROR() {
	var expected = []string{"", "", "", "", textErrorString}

	output := fetchLogOutputForSpecifiedSeverityLevel("ERROR", "text", getTestLoggingFunctions())

	validateOutput(t.T(), expected, output)
}

func (t *LoggerTest) TestTextFormatLogs_LogLevelWARNING() {
	var expected = []string{"", "", "", textWarningString, textErrorString}

	output := fetchLogOutputForSpecifiedSeverityLevel("WARNING", "text", getTestLoggingFunctions())

	validateOutput(t.T(), expected, output)
}

func (t *LoggerTest) TestTextFormatLogs_LogLevelINFO() {
	var expected = []string{"", "", textInfoString, textWarningString, textErrorString}

	output := fetchLogOutputForSpecifiedSeverityLevel("INFO", "text", getTestLoggingFunctions())

	validateOutput(t.T(), expected, output)
}

func (t *LoggerTest) TestTextFormatLogs_LogLevelTRACE() {
	var expected = []string{textTraceString, textDebugString, textInfoString, textWarningString, textErrorString}

	output := fetchLogOutputForSpecifiedSeverityLevel("TRACE", "text", getTestLoggingFunctions())

	validateOutput(t.T(), expected, output)
}

func (t *LoggerTest) TestJSONFormatLogs_LogLevelDEBUG() {
	var expected = []string{"", jsonDebugString, jsonInfoString, jsonWarningString, jsonErrorString}

	output := fetchLogOutputForSpecifiedSeverityLevel("DEBUG", "json", getTestLoggingFunctions())

	validateOutput(t.T(), expected, output)
}

func (t *LoggerTest) TestJSONFormatLogs_LogLevelTRACE() {
	var expected = []string{jsonTraceString, jsonDebugString, jsonInfoString, jsonWarningString, jsonErrorString}

	output := fetchLogOutputForSpecifiedSeverityLevel("TRACE", "json", getTestLoggingFunctions())

	validateOutput(t.T(), expected, output)
}

func (t *LoggerTest) TestSetLoggingLevel_UnknownDefaultsToInfo() {
	programLevel := new(slog.LevelVar)

	setLoggingLevel("VERBOSE", programLevel)

	assert.Equal(t.T(), LevelInfo, programLevel.Level())
}

func (t *LoggerTest) TestInitLogFile_WritesRotatingFile() {
	logPath := filepath.Join(t.T().TempDir(), "taskrunner.log")
	err := InitLogFile(cfg.LoggingConfig{
		FilePath: cfg.ResolvedPath(logPath),
		Format:   "json",
		Severity: cfg.DebugLogSeverity,
		LogRotate: cfg.LogRotateLoggingConfig{
			MaxFileSizeMb:   1,
			BackupFileCount: 1,
		},
	})
	require.NoError(t.T(), err)

	Debugf("task %s done", "build")
	Tracef("filtered out")
	Close()

	content, err := os.ReadFile(logPath)
	require.NoError(t.T(), err)
	assert.Regexp(t.T(), `^\{"timestamp":\{"seconds":\d{10},"nanos":\d{0,9}\},"severity":"DEBUG","message":"task build done"\}\n$`, string(content))
}

func TestFatal_LogsAndExitsNonZero(t *testing.T) {
	if os.Getenv("TASKRUNNER_LOGGER_FATAL") == "1" {
		Fatal("cannot continue: %s", "bad flags")
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=^TestFatal_LogsAndExitsNonZero$")
	cmd.Env = append(os.Environ(), "TASKRUNNER_LOGGER_FATAL=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, stderr.String(), "severity=ERROR")
	assert.Contains(t, stderr.String(), "cannot continue: bad flags")
}
