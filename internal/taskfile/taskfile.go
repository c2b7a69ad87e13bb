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

// Package taskfile reads prioritized shell task definitions from YAML.
package taskfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/googlecloudplatform/taskrunner/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Definition describes a single task in a task file.
type Definition struct {
	Name string `yaml:"name"`

	// Nil until Validate fills in the default priority.
	Priority *scheduler.Priority `yaml:"priority,omitempty"`

	Command string `yaml:"command"`

	// Extra environment variables, added on top of the runner's own
	// environment.
	Env map[string]string `yaml:"env,omitempty"`

	// Working directory; empty means the runner's current directory.
	Dir string `yaml:"dir,omitempty"`
}

// File is the top level document of a task file.
type File struct {
	Tasks []Definition `yaml:"tasks"`
}

// Validate checks that the definition can be run and sets its priority to
// defaultPriority when none was given.
func (d *Definition) Validate(defaultPriority scheduler.Priority) error {
	if d.Name == "" {
		return errors.New("task name is required")
	}
	if d.Command == "" {
		return fmt.Errorf("task %q: command is required", d.Name)
	}
	if d.Priority == nil {
		p := defaultPriority
		d.Priority = &p
	}
	if !d.Priority.Valid() {
		return fmt.Errorf("task %q: invalid priority %d", d.Name, int(*d.Priority))
	}
	return nil
}

// EffectivePriority returns the priority of a validated definition.
func (d *Definition) EffectivePriority() scheduler.Priority {
	if d.Priority == nil {
		return scheduler.Normal
	}
	return *d.Priority
}

// Validate validates every definition and rejects duplicate task names.
func (f *File) Validate(defaultPriority scheduler.Priority) error {
	seen := make(map[string]bool, len(f.Tasks))
	for i := range f.Tasks {
		d := &f.Tasks[i]
		if err := d.Validate(defaultPriority); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if seen[d.Name] {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// Parse decodes a task file from r. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode task file: %w", err)
	}
	return &f, nil
}

// Load reads and parses the task file at path.
func Load(path string) (*File, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task file: %w", err)
	}
	defer r.Close()

	f, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decoder reads a stream of YAML documents, each holding one task
// definition.
type Decoder struct {
	dec *yaml.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: yaml.NewDecoder(r)}
}

// Next returns the next definition in the stream, skipping empty documents.
// It returns io.EOF once the stream is exhausted.
func (d *Decoder) Next() (*Definition, error) {
	for {
		var node yaml.Node
		if err := d.dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("decode task definition: %w", err)
		}
		if isEmptyDocument(&node) {
			continue
		}

		def, err := decodeStrict(&node)
		if err != nil {
			return nil, fmt.Errorf("decode task definition at line %d: %w", node.Content[0].Line, err)
		}
		return def, nil
	}
}

// decodeStrict decodes a document node into a Definition, rejecting unknown
// fields as Parse does. yaml.Node.Decode has no such option, so the node is
// re-encoded first.
func decodeStrict(doc *yaml.Node) (*Definition, error) {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var def Definition
	if err = dec.Decode(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func isEmptyDocument(n *yaml.Node) bool {
	if n.Kind == 0 {
		return true
	}
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return true
		}
		c := n.Content[0]
		return c.Kind == yaml.ScalarNode && c.Tag == "!!null"
	}
	return false
}
