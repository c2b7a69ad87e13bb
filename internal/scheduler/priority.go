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

package scheduler

import (
	"fmt"
	"strings"
)

// Priority selects which pending task runs next. Lower values are dequeued
// first.
type Priority int

// Constants for all supported priorities, in dequeue order.
const (
	High Priority = iota
	Normal
	Low

	numPriorities = int(Low) + 1
)

var priorityNames = [numPriorities]string{"high", "normal", "low"}

// Priorities returns every priority in dequeue order.
func Priorities() []Priority {
	return []Priority{High, Normal, Low}
}

// Valid reports whether p is one of High, Normal or Low.
func (p Priority) Valid() bool {
	return p >= High && p <= Low
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority converts a case-insensitive label into a Priority.
func ParsePriority(s string) (Priority, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	for i, name := range priorityNames {
		if name == label {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("invalid priority value: %s. It can only accept values in the list: %v", s, priorityNames)
}

func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority: %d", int(p))
	}
	return []byte(p.String()), nil
}
