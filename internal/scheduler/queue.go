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

import "time"

// entry is a submitted task waiting in a pendingQueue.
type entry struct {
	id       string
	seq      uint64
	priority Priority
	task     Task
	queuedAt time.Time

	next *entry
}

// pendingQueue is a singly linked FIFO of entries sharing one priority.
// Not safe for concurrent access; the scheduler guards it with its mutex.
type pendingQueue struct {
	head, tail *entry
	size       int
}

func (q *pendingQueue) Len() int {
	return q.size
}

func (q *pendingQueue) push(e *entry) {
	e.next = nil
	if q.tail == nil {
		q.head = e
	} else {
		q.tail.next = e
	}
	q.tail = e
	q.size++
}

// pop removes the oldest entry, or returns nil when the queue is empty.
func (q *pendingQueue) pop() *entry {
	e := q.head
	if e == nil {
		return nil
	}
	q.head = e.next
	if q.head == nil {
		q.tail = nil
	}
	e.next = nil
	q.size--
	return e
}

// takeAll empties the queue and returns its entries oldest first.
func (q *pendingQueue) takeAll() []*entry {
	if q.size == 0 {
		return nil
	}
	out := make([]*entry, 0, q.size)
	for e := q.pop(); e != nil; e = q.pop() {
		out = append(out, e)
	}
	return out
}

// checkOrder panics unless sequence numbers strictly increase from head to
// tail and size matches the number of linked entries.
func (q *pendingQueue) checkOrder() {
	n := 0
	var last uint64
	for e := q.head; e != nil; e = e.next {
		if n > 0 && e.seq <= last {
			panic("pendingQueue: entries out of submission order")
		}
		if e.next == nil && e != q.tail {
			panic("pendingQueue: tail does not point at last entry")
		}
		last = e.seq
		n++
	}
	if n != q.size {
		panic("pendingQueue: size does not match linked entries")
	}
}
