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
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sjy-dv/quiver/cluster"
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/pkg/interval"
	"github.com/sjy-dv/quiver/tree"
)

var (
	ErrCheckedOutNotFound     = errors.New("no checked-out entry covers the received query subtree")
	ErrPartialSyncUnsupported = errors.New("partial query subtree synchronization is unsupported")
)

// processRankFavorFactor weights peer distance into task priorities.
const processRankFavorFactor = 0

// slot is one active query subtree: its pending tasks, the reference
// intervals already assigned against it, and its remaining global work.
type slot struct {
	query         *tree.SubTable
	tasks         *TaskPriorityQueue
	assigned      *interval.DisjointSet
	remainingWork uint64
}

// TaskQueue drives one process's share of a distributed dual-tree
// computation. All state is guarded by one mutex; exported methods lock
// it and delegate to unexported bodies, which is also how the exchange
// callbacks re-enter the queue without deadlocking.
type TaskQueue struct {
	mu sync.Mutex

	slots      []*slot
	checkedOut *list.List

	numExported       int
	numImported       int
	numRemainingTasks int
	numThreads        int

	remainingGlobal uint64
	remainingLocal  uint64

	seq uint64

	world    *cluster.World
	exchange Exchange

	localResult *tree.ResultBlock

	log zerolog.Logger
}

func NewTaskQueue(logger zerolog.Logger) *TaskQueue {
	return &TaskQueue{
		checkedOut: list.New(),
		numThreads: 1,
		log:        logger.With().Str("component", "dualtree-queue").Logger(),
	}
}

// Init partitions the local query tree into about 4*numThreads active
// slots, initializes the work counters from the world's point counts,
// and hands the exchange a callback surface into this queue.
func (q *TaskQueue) Init(
	world *cluster.World,
	maxSubtreeSize int,
	doLoadBalancing bool,
	queryTable, referenceTable *tree.Table,
	localResult *tree.ResultBlock,
	numThreads int,
	ex Exchange,
) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if numThreads < 1 {
		numThreads = 1
	}
	q.numThreads = numThreads
	q.world = world
	q.exchange = ex
	q.localResult = localResult

	totalRef := world.TotalReferencePoints()
	totalQuery := world.TotalQueryPoints()

	frontier := queryTable.FrontierBoundedByNumber(4 * numThreads)
	q.slots = make([]*slot, 0, len(frontier))
	for _, n := range frontier {
		sub := tree.NewSubTable(queryTable, n)
		sub.SetResult(localResult)
		q.slots = append(q.slots, &slot{
			query:         sub,
			tasks:         NewTaskPriorityQueue(),
			assigned:      interval.NewDisjointSet(),
			remainingWork: totalRef,
		})
	}

	q.remainingGlobal = totalQuery * totalRef
	q.remainingLocal = 0
	q.numRemainingTasks = 0
	q.numExported = 0
	q.numImported = 0

	return ex.Init(world, maxSubtreeSize, doLoadBalancing, queryTable, referenceTable, &queueHooks{q: q})
}

// --- work intake -----------------------------------------------------

// PushTask computes a task's priority from the two bounds and enqueues
// it against the slot.
func (q *TaskQueue) PushTask(metric hyperrect.Metric, slotIdx int, ref *tree.SubTable) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushTaskLocked(metric, slotIdx, ref)
}

func (q *TaskQueue) newTask(metric hyperrect.Metric, query, ref *tree.SubTable) *Task {
	r := metric.RangeDistanceSq(query.Bound(), ref.Bound())
	priority := -r.Mid() -
		processRankFavorFactor*float64(q.exchange.ProcessRank(ref.Origin()))
	q.seq++
	return &Task{Query: query, Reference: ref, Priority: priority, seq: q.seq}
}

func (q *TaskQueue) pushTaskLocked(metric hyperrect.Metric, slotIdx int, ref *tree.SubTable) {
	s := q.slots[slotIdx]
	t := q.newTask(metric, s.query, ref)
	s.tasks.Push(t)
	q.numRemainingTasks++
	q.remainingLocal += t.Work()
}

// GenerateTasks turns received reference subtree ids into tasks: one per
// (slot, interval) pair not yet assigned, active slots whose query
// subtree originates here first in index order (imported slots get
// none), then checked-out entries in insertion order. Each created task
// takes one reference on the cache slot.
func (q *TaskQueue) GenerateTasks(metric hyperrect.Metric, received []ReceivedRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generateTasksLocked(metric, received)
}

func (q *TaskQueue) generateTasksLocked(metric hyperrect.Metric, received []ReceivedRef) error {
	for _, r := range received {
		ref := q.exchange.FindSubTable(r.CacheID)
		if ref == nil {
			node, err := q.exchange.FindByBeginCount(r.Begin, r.Count)
			if err != nil {
				return fmt.Errorf("resolve reference %d+%d: %w", r.Begin, r.Count, err)
			}
			ref = tree.NewSubTable(q.exchange.LocalTable(), node)
			ref.SetCacheBlock(r.CacheID)
		}
		owner := ref.Origin()
		begin, end := r.Begin, r.Begin+r.Count

		for j := range q.slots {
			if q.slots[j].query.Origin() == q.world.Rank() &&
				q.slots[j].assigned.Insert(owner, begin, end) {
				q.pushTaskLocked(metric, j, ref)
				q.exchange.LockCache(r.CacheID, 1)
			}
		}
		for el := q.checkedOut.Front(); el != nil; el = el.Next() {
			e := el.Value.(*CheckedOutEntry)
			if e.Insert(owner, begin, end) {
				e.PushTask(q, metric, ref)
				q.exchange.LockCache(r.CacheID, 1)
			}
		}
	}
	return nil
}

// PushNewQueue appends a fresh active slot for a query subtree imported
// from a peer and returns its index. Its remaining work is installed by
// the import accounting that follows.
func (q *TaskQueue) PushNewQueue(originRank int, sub *tree.SubTable) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushNewQueueLocked(originRank, sub)
}

func (q *TaskQueue) pushNewQueueLocked(originRank int, sub *tree.SubTable) int {
	sub.SetOrigin(originRank)
	q.slots = append(q.slots, &slot{
		query:         sub,
		tasks:         NewTaskPriorityQueue(),
		assigned:      interval.NewDisjointSet(),
		remainingWork: 0,
	})
	q.numImported++
	q.log.Debug().
		Str("query", sub.ID().String()).
		Int("from", originRank).
		Msg("imported query subtree")
	return len(q.slots) - 1
}

// ImportExtraTaskList installs an exported task-list packet: reference
// subtables into the cache, then one new slot per exported queue with
// its shipped assigned set, remaining work, and tasks.
func (q *TaskQueue) ImportExtraTaskList(metric hyperrect.Metric, frame *TaskListFrame) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.importExtraTaskListLocked(metric, frame)
}

func (q *TaskQueue) importExtraTaskListLocked(metric hyperrect.Metric, frame *TaskListFrame) error {
	refUses := make([]int, len(frame.RefTables))
	for _, qf := range frame.Queues {
		for _, ri := range qf.TaskRefs {
			if ri < 0 || ri >= len(refUses) {
				return fmt.Errorf("task list references subtable %d of %d", ri, len(refUses))
			}
			refUses[ri]++
		}
	}

	refs := make([]*tree.SubTable, len(frame.RefTables))
	for i := range frame.RefTables {
		sub, err := frame.RefTables[i].SubTable()
		if err != nil {
			return err
		}
		sub.SetCacheBlock(q.exchange.PushSubTable(sub, refUses[i]))
		refs[i] = sub
	}

	for _, qf := range frame.Queues {
		sub, assigned, err := qf.Query.SubTable()
		if err != nil {
			return err
		}
		idx := q.pushNewQueueLocked(qf.Query.Origin, sub)
		s := q.slots[idx]
		s.assigned = assigned
		s.remainingWork = qf.Query.RemainingWork
		for _, ri := range qf.TaskRefs {
			q.pushTaskLocked(metric, idx, refs[ri])
		}
	}
	return nil
}

// --- dequeue ---------------------------------------------------------

// DequeueTask scans active slots in index order for the next task. When
// fewer slots than worker threads exist it first tries to split one.
// With wantCheckout the winning slot is atomically checked out to this
// process and the handle returned. ok is false when no slot has work.
func (q *TaskQueue) DequeueTask(metric hyperrect.Metric, wantCheckout bool) (*Task, *list.Element, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.slots) < q.numThreads {
		q.redistributeAmongCoresLocked(metric)
	}

	for probe := 0; probe < len(q.slots); probe++ {
		task, handle, cleaned := q.dequeueSlotLocked(probe, wantCheckout)
		if task != nil {
			return task, handle, true
		}
		if cleaned {
			probe--
		}
	}
	return nil, nil, false
}

// DequeueSlot is the single-slot variant. cleaned reports that the slot
// was evicted or flushed and the caller should re-examine the index.
func (q *TaskQueue) DequeueSlot(slotIdx int, wantCheckout bool) (*Task, *list.Element, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueSlotLocked(slotIdx, wantCheckout)
}

func (q *TaskQueue) dequeueSlotLocked(slotIdx int, wantCheckout bool) (*Task, *list.Element, bool) {
	s := q.slots[slotIdx]

	if s.tasks.Len() > 0 {
		t := s.tasks.Pop()
		q.numRemainingTasks--
		q.decRemainingLocalLocked(t.Work())
		var handle *list.Element
		if wantCheckout {
			handle = q.lockQuerySubtableLocked(slotIdx, q.world.Rank())
		}
		return t, handle, false
	}

	if s.query.Origin() == q.world.Rank() {
		if s.remainingWork == 0 {
			q.evictLocked(slotIdx)
			return nil, nil, true
		}
	} else {
		// Imported and drained: hand it back to its origin.
		q.flushLocked(slotIdx)
		return nil, nil, true
	}
	return nil, nil, false
}

// Pop removes the top task of the slot with the usual accounting.
func (q *TaskQueue) Pop(slotIdx int) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked(slotIdx)
}

func (q *TaskQueue) popLocked(slotIdx int) *Task {
	s := q.slots[slotIdx]
	t := s.tasks.Pop()
	if t == nil {
		return nil
	}
	q.numRemainingTasks--
	q.decRemainingLocalLocked(t.Work())
	return t
}

func (q *TaskQueue) Top(slotIdx int) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[slotIdx].tasks.Top()
}

func (q *TaskQueue) Size(slotIdx int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[slotIdx].tasks.Len()
}

func (q *TaskQueue) evictLocked(slotIdx int) {
	last := len(q.slots) - 1
	q.slots[slotIdx] = q.slots[last]
	q.slots[last] = nil
	q.slots = q.slots[:last]
}

func (q *TaskQueue) flushLocked(slotIdx int) {
	q.exchange.QueueFlushRequest(q.slots[slotIdx].query)
	q.numImported--
	q.evictLocked(slotIdx)
}

// --- completed work --------------------------------------------------

// PushCompletedComputation subtracts finished work from the global
// counter, routes the broadcast, and credits every active slot with the
// covered reference points.
func (q *TaskQueue) PushCompletedComputation(referenceCount, quantity uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.decRemainingGlobalLocked(quantity)
	q.exchange.PushCompletedComputation(quantity)
	for _, s := range q.slots {
		if s.remainingWork < referenceCount {
			q.log.Fatal().
				Str("query", s.query.ID().String()).
				Uint64("remaining", s.remainingWork).
				Uint64("credit", referenceCount).
				Msg("remaining work underflow")
		}
		s.remainingWork -= referenceCount
	}
}

// PushCompletedComputationFor is the scoped form: only the checked-out
// entry behind the handle is credited.
func (q *TaskQueue) PushCompletedComputationFor(handle *list.Element, referenceCount, quantity uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.decRemainingGlobalLocked(quantity)
	q.exchange.PushCompletedComputation(quantity)
	e := handle.Value.(*CheckedOutEntry)
	if e.remainingWork < referenceCount {
		q.log.Fatal().
			Str("query", e.ID().String()).
			Uint64("remaining", e.remainingWork).
			Uint64("credit", referenceCount).
			Msg("remaining work underflow on checked-out entry")
	}
	e.remainingWork -= referenceCount
}

func (q *TaskQueue) decRemainingLocalLocked(n uint64) {
	if q.remainingLocal < n {
		q.log.Fatal().
			Uint64("remaining_local", q.remainingLocal).
			Uint64("decrement", n).
			Msg("remaining local computation underflow")
	}
	q.remainingLocal -= n
}

func (q *TaskQueue) decRemainingGlobalLocked(n uint64) {
	if q.remainingGlobal < n {
		q.log.Fatal().
			Uint64("remaining_global", q.remainingGlobal).
			Uint64("decrement", n).
			Msg("remaining global computation underflow")
	}
	q.remainingGlobal -= n
}

// DecrementRemainingGlobal applies a completed-work broadcast received
// from a peer.
func (q *TaskQueue) DecrementRemainingGlobal(quantity uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.decRemainingGlobalLocked(quantity)
}

// DecrementRemainingLocal retires local work that was accounted but is
// no longer pending.
func (q *TaskQueue) DecrementRemainingLocal(quantity uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.decRemainingLocalLocked(quantity)
}

// --- checkout / return / synchronize ---------------------------------

// LockQuerySubtable moves the slot's state into a checked-out entry
// tagged with the holding rank and returns a stable handle.
func (q *TaskQueue) LockQuerySubtable(slotIdx, remoteRank int) *list.Element {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lockQuerySubtableLocked(slotIdx, remoteRank)
}

func (q *TaskQueue) lockQuerySubtableLocked(slotIdx, remoteRank int) *list.Element {
	s := q.slots[slotIdx]
	e := &CheckedOutEntry{
		query:         s.query,
		tasks:         s.tasks,
		assigned:      s.assigned,
		remainingWork: s.remainingWork,
		lockedRank:    remoteRank,
	}
	el := q.checkedOut.PushBack(e)
	q.evictLocked(slotIdx)
	if remoteRank != q.world.Rank() {
		q.numExported++
	}
	return el
}

// ReturnQuerySubtable moves a checked-out entry back into a fresh active
// slot.
func (q *TaskQueue) ReturnQuerySubtable(handle *list.Element) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.returnQuerySubtableLocked(handle)
}

func (q *TaskQueue) returnQuerySubtableLocked(handle *list.Element) {
	e := handle.Value.(*CheckedOutEntry)
	q.slots = append(q.slots, &slot{
		query:         e.query,
		tasks:         e.tasks,
		assigned:      e.assigned,
		remainingWork: e.remainingWork,
	})
	q.checkedOut.Remove(handle)
	if e.lockedRank != q.world.Rank() {
		q.numExported--
	}
}

// Synchronize matches a received query subtree against the checked-out
// list, merges its shipped results, and on an exact identity match moves
// the entry back to the active pool. A strict sub-range return is
// rejected rather than guessing a split policy.
func (q *TaskQueue) Synchronize(received *tree.SubTable) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.synchronizeLocked(received)
}

func (q *TaskQueue) synchronizeLocked(received *tree.SubTable) error {
	id := received.ID()
	for el := q.checkedOut.Front(); el != nil; el = el.Next() {
		e := el.Value.(*CheckedOutEntry)
		if !e.query.ID().Includes(id) {
			continue
		}
		if res := received.Result(); res != nil && e.query.Result() != nil {
			e.query.Result().MergeFrom(res)
		}
		if e.query.ID() != id {
			return fmt.Errorf("%w: received %s inside %s",
				ErrPartialSyncUnsupported, id, e.query.ID())
		}
		q.returnQuerySubtableLocked(el)
		q.log.Debug().Str("query", id.String()).Msg("synchronized query subtree")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCheckedOutNotFound, id)
}

// --- load balancing --------------------------------------------------

// PrepareLoadBalanceRequest snapshots what this process holds so a peer
// can pick exports the requester does not already own.
func (q *TaskQueue) PrepareLoadBalanceRequest() *LoadBalanceRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := &LoadBalanceRequest{
		RemainingLocal:    q.remainingLocal,
		ExtraPointsToHold: q.exchange.RemainingExtraPointsToHold(),
	}
	for _, s := range q.slots {
		req.OwnedIDs = append(req.OwnedIDs, s.query.ID())
	}
	for el := q.checkedOut.Front(); el != nil; el = el.Next() {
		req.OwnedIDs = append(req.OwnedIDs, el.Value.(*CheckedOutEntry).ID())
	}
	return req
}

// PrepareExtraTaskList packs as many active slots as the neighbor's
// budget allows, skipping subtrees the neighbor already owns. Packed
// slots become checked-out entries locked by the neighbor.
func (q *TaskQueue) PrepareExtraTaskList(
	metric hyperrect.Metric,
	neighborRank int,
	neighborBudget uint64,
	neighborReq *LoadBalanceRequest,
) *TaskListFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.prepareExtraTaskListLocked(metric, neighborRank, neighborBudget, neighborReq)
}

func (q *TaskQueue) prepareExtraTaskListLocked(
	metric hyperrect.Metric,
	neighborRank int,
	neighborBudget uint64,
	neighborReq *LoadBalanceRequest,
) *TaskListFrame {
	var lst TaskList
	lst.Init(q, neighborRank, neighborBudget)
	for i := 0; lst.RemainingExtraPointsToHold() > 0 && i < len(q.slots); i++ {
		if neighborReq.QuerySubtableIsOwned(q.slots[i].query.ID()) {
			continue
		}
		if lst.PushBack(i) {
			// Eviction swapped the tail in; re-examine this index.
			i--
		}
	}
	return lst.Frame()
}

func (q *TaskQueue) encodeQuerySlot(slotIdx int) (QuerySubTableFrame, error) {
	s := q.slots[slotIdx]
	rows, err := s.query.Rows()
	if err != nil {
		return QuerySubTableFrame{}, err
	}
	assigned, err := s.assigned.Marshal()
	if err != nil {
		return QuerySubTableFrame{}, err
	}
	var result *tree.ResultBlock
	if r := s.query.Result(); r != nil {
		result = r.Slice(s.query.Node().Begin(), s.query.Node().Count())
	}
	return QuerySubTableFrame{
		Origin:        s.query.Origin(),
		Nodes:         tree.Flatten(s.query.Node()),
		Rows:          rows,
		Result:        result,
		Assigned:      assigned,
		RemainingWork: s.remainingWork,
	}, nil
}

// --- splitting -------------------------------------------------------

func (q *TaskQueue) redistributeAmongCoresLocked(metric hyperrect.Metric) {
	splitIdx, splitSize := -1, 0
	for i, s := range q.slots {
		n := s.query.Node()
		if !n.IsLeaf() && s.tasks.Len() > 0 && n.Count() > splitSize {
			splitSize = n.Count()
			splitIdx = i
		}
	}
	if splitIdx >= 0 {
		q.splitSubtreeLocked(metric, splitIdx)
	}
}

// splitSubtreeLocked replaces the slot's subtree with its left child and
// appends a new slot for the right child. Pending tasks are re-enqueued
// against both children; the reference cache is locked once per drained
// task since only the query side split.
func (q *TaskQueue) splitSubtreeLocked(metric hyperrect.Metric, slotIdx int) {
	s := q.slots[slotIdx]
	prev := s.query.Node()
	left, right := prev.Left(), prev.Right()

	s.query.SetNode(left)
	rightSub := s.query.Alias()
	rightSub.SetNode(right)

	var drained []*Task
	for s.tasks.Len() > 0 {
		t, _, _ := q.dequeueSlotLocked(slotIdx, false)
		drained = append(drained, t)
	}

	q.slots = append(q.slots, &slot{
		query:         rightSub,
		tasks:         NewTaskPriorityQueue(),
		assigned:      interval.NewDisjointSetFrom(s.assigned),
		remainingWork: s.remainingWork,
	})

	for _, t := range drained {
		q.pushTaskLocked(metric, slotIdx, t.Reference)
		q.pushTaskLocked(metric, len(q.slots)-1, t.Reference)
		if cb := t.Reference.CacheBlock(); cb != tree.NoCacheBlock {
			q.exchange.LockCache(cb, 1)
		}
	}
}

// --- exchange driving ------------------------------------------------

// SendReceive advances the exchange one turn under the queue lock:
// outstanding query flushes first, then the route fan-out. Incoming
// deliveries call back into this queue while the lock is held.
func (q *TaskQueue) SendReceive(metric hyperrect.Metric, routes []RouteRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.exchange.DoLoadBalancing() {
		if err := q.exchange.SendReceiveFlushRequests(); err != nil {
			return err
		}
	}
	if q.exchange.ReadyToSendReceive() {
		return q.exchange.SendReceive(metric, routes)
	}
	return nil
}

// ReleaseCache releases n prior cache locks.
func (q *TaskQueue) ReleaseCache(cacheID, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exchange.ReleaseCache(cacheID, n)
}

// FindSubTable resolves a cache slot through the exchange.
func (q *TaskQueue) FindSubTable(cacheID int) *tree.SubTable {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exchange.FindSubTable(cacheID)
}

// PushSubTable admits a received subtable into the exchange cache.
func (q *TaskQueue) PushSubTable(sub *tree.SubTable, refCount int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exchange.PushSubTable(sub, refCount)
}

// QuerySubtable returns the slot's query subtree view.
func (q *TaskQueue) QuerySubtable(slotIdx int) *tree.SubTable {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[slotIdx].query
}

// --- observables -----------------------------------------------------

func (q *TaskQueue) CanTerminate() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remainingGlobal == 0 && q.exchange.CanTerminate()
}

func (q *TaskQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numRemainingTasks == 0
}

func (q *TaskQueue) NumRemainingTasks() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numRemainingTasks
}

func (q *TaskQueue) RemainingLocalComputation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remainingLocal
}

func (q *TaskQueue) RemainingGlobalComputation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remainingGlobal
}

func (q *TaskQueue) ActiveSlotCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

func (q *TaskQueue) NumExported() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numExported
}

func (q *TaskQueue) NumImported() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numImported
}

// RemainingWork returns the slot's remaining global work counter.
func (q *TaskQueue) RemainingWork(slotIdx int) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.slots[slotIdx].remainingWork
}

// CheckIntegrity reports whether any pending task, active or checked
// out, still references the subtree about to be destroyed.
func (q *TaskQueue) CheckIntegrity(destructID tree.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.checkIntegrityLocked(destructID)
}

func (q *TaskQueue) checkIntegrityLocked(destructID tree.ID) bool {
	for _, s := range q.slots {
		for _, t := range s.tasks.Items() {
			if t.Reference.ID() == destructID {
				return true
			}
		}
	}
	for el := q.checkedOut.Front(); el != nil; el = el.Next() {
		for _, t := range el.Value.(*CheckedOutEntry).Tasks().Items() {
			if t.Reference.ID() == destructID {
				return true
			}
		}
	}
	return false
}

// queueHooks is the callback surface handed to the exchange. SendReceive
// holds the queue lock while the exchange drains its inbox, so these
// bodies run lock-free on purpose.
type queueHooks struct {
	q *TaskQueue
}

func (h *queueHooks) PushNewQueue(originRank int, sub *tree.SubTable) int {
	return h.q.pushNewQueueLocked(originRank, sub)
}

func (h *queueHooks) GenerateTasks(metric hyperrect.Metric, received []ReceivedRef) error {
	return h.q.generateTasksLocked(metric, received)
}

func (h *queueHooks) Synchronize(sub *tree.SubTable) error {
	return h.q.synchronizeLocked(sub)
}

func (h *queueHooks) ImportExtraTaskList(metric hyperrect.Metric, list *TaskListFrame) error {
	return h.q.importExtraTaskListLocked(metric, list)
}

func (h *queueHooks) PrepareExtraTaskList(
	metric hyperrect.Metric,
	neighborRank int,
	neighborBudget uint64,
	neighborReq *LoadBalanceRequest,
) *TaskListFrame {
	return h.q.prepareExtraTaskListLocked(metric, neighborRank, neighborBudget, neighborReq)
}

func (h *queueHooks) DecrementRemainingGlobal(quantity uint64) {
	h.q.decRemainingGlobalLocked(quantity)
}

func (h *queueHooks) CheckIntegrity(destructID tree.ID) bool {
	return h.q.checkIntegrityLocked(destructID)
}
