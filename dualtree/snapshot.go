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

// TaskStatus names one pending task's reference side.
type TaskStatus struct {
	Reference  string `json:"reference"`
	CacheBlock int    `json:"cache_block"`
}

// SlotStatus is the observable state of one active slot.
type SlotStatus struct {
	Query         string       `json:"query"`
	Origin        int          `json:"origin"`
	NumTasks      int          `json:"num_tasks"`
	RemainingWork uint64       `json:"remaining_work"`
	Tasks         []TaskStatus `json:"tasks"`
}

// CheckedOutStatus is the observable state of one checked-out entry.
type CheckedOutStatus struct {
	Query         string       `json:"query"`
	LockedBy      int          `json:"locked_by"`
	NumTasks      int          `json:"num_tasks"`
	RemainingWork uint64       `json:"remaining_work"`
	Tasks         []TaskStatus `json:"tasks"`
}

// QueueSnapshot is a consistent dump of the queue, served by Print and
// the status gateway.
type QueueSnapshot struct {
	Rank              int                `json:"rank"`
	Active            []SlotStatus       `json:"active"`
	CheckedOut        []CheckedOutStatus `json:"checked_out"`
	RemainingLocal    uint64             `json:"remaining_local"`
	RemainingGlobal   uint64             `json:"remaining_global"`
	NumRemainingTasks int                `json:"num_remaining_tasks"`
	NumExported       int                `json:"num_exported"`
	NumImported       int                `json:"num_imported"`
}

func taskStatuses(pq *TaskPriorityQueue) []TaskStatus {
	out := make([]TaskStatus, 0, pq.Len())
	for _, t := range pq.Items() {
		out = append(out, TaskStatus{
			Reference:  t.Reference.ID().String(),
			CacheBlock: t.Reference.CacheBlock(),
		})
	}
	return out
}

// Snapshot captures the queue state under the lock.
func (q *TaskQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := QueueSnapshot{
		Rank:              q.world.Rank(),
		RemainingLocal:    q.remainingLocal,
		RemainingGlobal:   q.remainingGlobal,
		NumRemainingTasks: q.numRemainingTasks,
		NumExported:       q.numExported,
		NumImported:       q.numImported,
	}
	for _, s := range q.slots {
		snap.Active = append(snap.Active, SlotStatus{
			Query:         s.query.ID().String(),
			Origin:        s.query.Origin(),
			NumTasks:      s.tasks.Len(),
			RemainingWork: s.remainingWork,
			Tasks:         taskStatuses(s.tasks),
		})
	}
	for el := q.checkedOut.Front(); el != nil; el = el.Next() {
		e := el.Value.(*CheckedOutEntry)
		snap.CheckedOut = append(snap.CheckedOut, CheckedOutStatus{
			Query:         e.ID().String(),
			LockedBy:      e.LockedRank(),
			NumTasks:      e.Tasks().Len(),
			RemainingWork: e.RemainingWork(),
			Tasks:         taskStatuses(e.Tasks()),
		})
	}
	return snap
}

// Print dumps the queue through the structured logger.
func (q *TaskQueue) Print() {
	snap := q.Snapshot()
	for _, s := range snap.Active {
		ev := q.log.Info().
			Str("query", s.Query).
			Int("origin", s.Origin).
			Int("tasks", s.NumTasks).
			Uint64("remaining_work", s.RemainingWork)
		for _, t := range s.Tasks {
			ev = ev.Str("ref", t.Reference).Int("cache", t.CacheBlock)
		}
		ev.Msg("active query subtree")
	}
	for _, c := range snap.CheckedOut {
		ev := q.log.Info().
			Str("query", c.Query).
			Int("locked_by", c.LockedBy).
			Int("tasks", c.NumTasks).
			Uint64("remaining_work", c.RemainingWork)
		for _, t := range c.Tasks {
			ev = ev.Str("ref", t.Reference).Int("cache", t.CacheBlock)
		}
		ev.Msg("checked-out query subtree")
	}
	q.log.Info().
		Uint64("remaining_local", snap.RemainingLocal).
		Uint64("remaining_global", snap.RemainingGlobal).
		Int("remaining_tasks", snap.NumRemainingTasks).
		Int("exported", snap.NumExported).
		Int("imported", snap.NumImported).
		Msg("distributed queue status")
}
