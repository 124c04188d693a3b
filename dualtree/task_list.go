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
	"github.com/sjy-dv/quiver/pkg/interval"
	"github.com/sjy-dv/quiver/tree"
)

// RefTableFrame ships a reference subtable: subtree structure plus rows.
type RefTableFrame struct {
	Origin int             `msgpack:"origin"`
	Nodes  []tree.FlatNode `msgpack:"nodes"`
	Rows   [][]float32     `msgpack:"rows"`
}

func (f *RefTableFrame) SubTable() (*tree.SubTable, error) {
	root, err := tree.Unflatten(f.Nodes)
	if err != nil {
		return nil, err
	}
	return tree.NewDetachedSubTable(f.Origin, root, f.Rows), nil
}

// QuerySubTableFrame ships a query subtree with its mutable state: rows,
// partial results, the assigned-work set, and the remaining-work count.
type QuerySubTableFrame struct {
	Origin        int               `msgpack:"origin"`
	Nodes         []tree.FlatNode   `msgpack:"nodes"`
	Rows          [][]float32       `msgpack:"rows"`
	Result        *tree.ResultBlock `msgpack:"result"`
	Assigned      map[int][]byte    `msgpack:"assigned"`
	RemainingWork uint64            `msgpack:"remaining_work"`
}

func (f *QuerySubTableFrame) SubTable() (*tree.SubTable, *interval.DisjointSet, error) {
	root, err := tree.Unflatten(f.Nodes)
	if err != nil {
		return nil, nil, err
	}
	sub := tree.NewDetachedSubTable(f.Origin, root, f.Rows)
	sub.SetResult(f.Result)
	assigned, err := interval.UnmarshalDisjointSet(f.Assigned)
	if err != nil {
		return nil, nil, err
	}
	return sub, assigned, nil
}

// ExportedQueueFrame is one exported query subtree plus the indices of
// its pending tasks' reference subtables within the task list.
type ExportedQueueFrame struct {
	Query    QuerySubTableFrame `msgpack:"query"`
	TaskRefs []int              `msgpack:"task_refs"`
}

// TaskListFrame is the wire packet of PrepareExtraTaskList: reference
// subtables first, then the exported queues referencing them.
type TaskListFrame struct {
	FromRank  int                  `msgpack:"from"`
	RefTables []RefTableFrame      `msgpack:"refs"`
	Queues    []ExportedQueueFrame `msgpack:"queues"`
}

// TaskList packs overflowing query subtrees for a starved neighbor. Each
// PushBack drains one active slot's heap into the packet and checks the
// slot out to the neighbor.
type TaskList struct {
	q         *TaskQueue
	neighbor  int
	remaining uint64
	refIndex  map[tree.ID]int
	frame     TaskListFrame
}

func (l *TaskList) Init(q *TaskQueue, neighborRank int, budget uint64) {
	l.q = q
	l.neighbor = neighborRank
	l.remaining = budget
	l.refIndex = make(map[tree.ID]int)
	l.frame = TaskListFrame{FromRank: q.world.Rank()}
}

// RemainingExtraPointsToHold is the neighbor budget not yet consumed.
func (l *TaskList) RemainingExtraPointsToHold() uint64 { return l.remaining }

func (l *TaskList) Frame() *TaskListFrame { return &l.frame }

// PushBack moves the slot's entire state into the packet if the
// neighbor's budget can hold it. The caller holds the queue lock.
func (l *TaskList) PushBack(slot int) bool {
	s := l.q.slots[slot]

	cost := uint64(s.query.Node().Count())
	for _, t := range s.tasks.Items() {
		if _, ok := l.refIndex[t.Reference.ID()]; !ok {
			cost += uint64(t.Reference.Node().Count())
		}
	}
	if cost > l.remaining {
		return false
	}

	qf, err := l.q.encodeQuerySlot(slot)
	if err != nil {
		return false
	}
	exported := ExportedQueueFrame{Query: qf}

	for s.tasks.Len() > 0 {
		t := l.q.popLocked(slot)
		idx, ok := l.refIndex[t.Reference.ID()]
		if !ok {
			rows, err := t.Reference.Rows()
			if err != nil {
				l.q.log.Fatal().Err(err).
					Str("reference", t.Reference.ID().String()).
					Msg("reference rows unavailable during export")
			}
			l.frame.RefTables = append(l.frame.RefTables, RefTableFrame{
				Origin: t.Reference.Origin(),
				Nodes:  tree.Flatten(t.Reference.Node()),
				Rows:   rows,
			})
			idx = len(l.frame.RefTables) - 1
			l.refIndex[t.Reference.ID()] = idx
		}
		exported.TaskRefs = append(exported.TaskRefs, idx)
		if cb := t.Reference.CacheBlock(); cb != tree.NoCacheBlock {
			l.q.exchange.ReleaseCache(cb, 1)
		}
	}

	l.q.lockQuerySubtableLocked(slot, l.neighbor)
	l.frame.Queues = append(l.frame.Queues, exported)
	l.remaining -= cost
	return true
}
