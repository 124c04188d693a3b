// Licensed to sjy-dv under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. sjy-dv licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package dualtree

import "container/heap"

// TaskPriorityQueue is a max-heap of tasks, highest priority first.
// Equal priorities pop in ascending task sequence number; the queue
// numbers tasks as it creates them, so runs replay deterministically
// within one process.
type TaskPriorityQueue struct {
	h taskHeap
}

func NewTaskPriorityQueue() *TaskPriorityQueue {
	return &TaskPriorityQueue{}
}

func (pq *TaskPriorityQueue) Push(t *Task) {
	heap.Push(&pq.h, t)
}

func (pq *TaskPriorityQueue) Top() *Task {
	if len(pq.h) == 0 {
		return nil
	}
	return pq.h[0]
}

func (pq *TaskPriorityQueue) Pop() *Task {
	if len(pq.h) == 0 {
		return nil
	}
	return heap.Pop(&pq.h).(*Task)
}

func (pq *TaskPriorityQueue) Len() int { return len(pq.h) }

// Items exposes the backing slice in unspecified order for integrity
// scans and status dumps. Callers must not mutate it.
func (pq *TaskPriorityQueue) Items() []*Task { return pq.h }

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
