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

import (
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/pkg/interval"
	"github.com/sjy-dv/quiver/tree"
)

// CheckedOutEntry holds a query subtree's state while it is away from
// the active pool: exported to a peer, or checked out by a local worker.
// While an entry exists, no active slot refers to the same subtree.
type CheckedOutEntry struct {
	query         *tree.SubTable
	tasks         *TaskPriorityQueue
	assigned      *interval.DisjointSet
	remainingWork uint64
	lockedRank    int
}

func (e *CheckedOutEntry) ID() tree.ID                    { return e.query.ID() }
func (e *CheckedOutEntry) Query() *tree.SubTable          { return e.query }
func (e *CheckedOutEntry) Tasks() *TaskPriorityQueue      { return e.tasks }
func (e *CheckedOutEntry) LockedRank() int                { return e.lockedRank }
func (e *CheckedOutEntry) RemainingWork() uint64          { return e.remainingWork }
func (e *CheckedOutEntry) Assigned() *interval.DisjointSet { return e.assigned }

// Insert records a reference interval against this entry's assigned set.
func (e *CheckedOutEntry) Insert(rank, begin, end int) bool {
	return e.assigned.Insert(rank, begin, end)
}

// PushTask enqueues a reference subtable against the checked-out query
// subtree, using the same priority formula as active slots. The owning
// queue's counters move with it. Caller holds the queue lock.
func (e *CheckedOutEntry) PushTask(q *TaskQueue, metric hyperrect.Metric, ref *tree.SubTable) {
	t := q.newTask(metric, e.query, ref)
	e.tasks.Push(t)
	q.numRemainingTasks++
	q.remainingLocal += t.Work()
}
