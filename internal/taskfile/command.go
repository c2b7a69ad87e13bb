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

package taskfile

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/googlecloudplatform/taskrunner/internal/logger"
)

// stderrTailSize bounds how much of a failing command's stderr ends up in its
// error.
const stderrTailSize = 4 << 10

// CommandTask runs a task definition's command through a shell.
type CommandTask struct {
	name    string
	shell   string
	command string
	env     []string
	dir     string
}

// NewCommandTask returns a task that runs def.Command as "<shell> -c
// <command>".
func NewCommandTask(def *Definition, shell string) *CommandTask {
	keys := make([]string, 0, len(def.Env))
	for k := range def.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+def.Env[k])
	}

	return &CommandTask{
		name:    def.Name,
		shell:   shell,
		command: def.Command,
		env:     env,
		dir:     def.Dir,
	}
}

func (t *CommandTask) Name() string {
	return t.name
}

// Execute runs the command and waits for it to exit. Every output line is
// logged at DEBUG. A non-zero exit status is returned as an error carrying
// the tail of stderr.
func (t *CommandTask) Execute() error {
	cmd := exec.Command(t.shell, "-c", t.command)
	cmd.Dir = t.dir
	if len(t.env) > 0 {
		cmd.Env = append(os.Environ(), t.env...)
	}

	stdout := &lineLogger{prefix: t.name + " stdout"}
	stderr := &lineLogger{prefix: t.name + " stderr", tail: &tailBuffer{limit: stderrTailSize}}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debugf("Running task %q: %s -c %q", t.name, t.shell, t.command)
	err := cmd.Run()
	stdout.flush()
	stderr.flush()

	if err != nil {
		if tail := strings.TrimSpace(stderr.tail.String()); tail != "" {
			return fmt.Errorf("task %q: %w, stderr: %q", t.name, err, tail)
		}
		return fmt.Errorf("task %q: %w", t.name, err)
	}
	return nil
}

// lineLogger is an io.Writer that logs every complete line at DEBUG and
// optionally keeps the most recent output in tail.
type lineLogger struct {
	prefix  string
	partial []byte
	tail    *tailBuffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	if l.tail != nil {
		l.tail.Write(p)
	}
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		logger.Debugf("[%s] %s", l.prefix, l.partial[:i])
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	if len(l.partial) > 0 {
		logger.Debugf("[%s] %s", l.prefix, l.partial)
		l.partial = nil
	}
}

// tailBuffer retains the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
