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

package exchange

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/sjy-dv/quiver/cluster"
	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/tree"
)

var (
	ErrNotInitialized = errors.New("exchange used before Init")
	ErrSelfFlush      = errors.New("flush requested for a query subtree that is already home")
)

// Options tune one exchange endpoint.
type Options struct {
	Transport Transport
	// ExtraHoldFactor bounds imported data: the process accepts at most
	// ExtraHoldFactor * maxSubtreeSize extra points for peers.
	ExtraHoldFactor int
	// Spill receives cold cached subtables; with nil, victims pushed off
	// the full victim list are dropped from the cache.
	Spill *badger.DB
}

// Exchange moves subtables between processes and keeps the refcounted
// reference cache. Apart from PlanEssentialRoutes and
// QueueLoadBalanceProbe, the owning queue calls every method below with
// its lock held; delivery callbacks re-enter the queue through the
// unlocked hook surface.
type Exchange struct {
	world     *cluster.World
	hooks     dualtree.Hooks
	transport Transport
	cache     *subtableCache

	queryTable *tree.Table
	refTable   *tree.Table

	doLB           bool
	maxSubtreeSize int
	holdBudget     uint64

	seenRoutes map[uint64]int // digest -> reserved local cache id

	pendingFlush     []*tree.SubTable
	pendingCompleted uint64

	// probes arrive from a scheduler thread, not from under the queue
	// lock like everything else, so they get their own guard.
	probeMu      sync.Mutex
	pendingProbe []*ProbeFrame
	probeTargets []int

	log zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Exchange {
	if opts.ExtraHoldFactor < 1 {
		opts.ExtraHoldFactor = 8
	}
	return &Exchange{
		transport:  opts.Transport,
		seenRoutes: make(map[uint64]int),
		log:        logger.With().Str("component", "table-exchange").Logger(),
		holdBudget: uint64(opts.ExtraHoldFactor),
		cache:      mustCache(opts.Spill, logger),
	}
}

func mustCache(spill *badger.DB, logger zerolog.Logger) *subtableCache {
	c, err := newSubtableCache(spill, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache victim list init failed")
	}
	return c
}

// Init wires the exchange to its world, tables, and queue callbacks.
func (e *Exchange) Init(
	world *cluster.World,
	maxSubtreeSize int,
	doLoadBalancing bool,
	queryTable, referenceTable *tree.Table,
	hooks dualtree.Hooks,
) error {
	e.world = world
	e.maxSubtreeSize = maxSubtreeSize
	e.doLB = doLoadBalancing
	e.queryTable = queryTable
	e.refTable = referenceTable
	e.hooks = hooks
	e.holdBudget *= uint64(maxSubtreeSize)
	e.cache.integrity = hooks.CheckIntegrity
	return nil
}

// --- cache surface ---------------------------------------------------

func (e *Exchange) LockCache(cacheID, n int)    { e.cache.lock(cacheID, n) }
func (e *Exchange) ReleaseCache(cacheID, n int) { e.cache.release(cacheID, n) }

func (e *Exchange) FindSubTable(cacheID int) *tree.SubTable {
	return e.cache.find(cacheID)
}

func (e *Exchange) FindByBeginCount(begin, count int) (*tree.Node, error) {
	return e.refTable.FindByBeginCount(begin, count)
}

func (e *Exchange) LocalTable() *tree.Table { return e.refTable }

func (e *Exchange) PushSubTable(sub *tree.SubTable, refCount int) int {
	id := e.cache.push(sub, refCount)
	sub.SetCacheBlock(id)
	return id
}

// --- route planning --------------------------------------------------

// PlanEssentialRoutes breaks the local reference tree into at least
// N/maxSubtreeSize (rounded down, minimum one) frontier subtrees and
// reserves a cache id for each. A subtree can hold more than
// maxSubtreeSize points. The same plan can be passed to SendReceive every turn; digests
// keep re-announcements from doing anything twice.
func (e *Exchange) PlanEssentialRoutes() []dualtree.RouteRequest {
	target := e.refTable.N() / e.maxSubtreeSize
	if target < 1 {
		target = 1
	}
	frontier := e.refTable.FrontierBoundedByNumber(target)
	routes := make([]dualtree.RouteRequest, 0, len(frontier))
	for _, n := range frontier {
		id := tree.ID{Rank: e.world.Rank(), Begin: n.Begin(), Count: n.Count()}
		digest := id.Hash()
		cacheID, seen := e.seenRoutes[digest]
		if !seen {
			cacheID = e.cache.reserveAlias(n.Count())
		}
		routes = append(routes, dualtree.RouteRequest{
			ID:      id,
			CacheID: cacheID,
			Digest:  digest,
		})
	}
	return routes
}

// --- flush / completed-work intake -----------------------------------

func (e *Exchange) QueueFlushRequest(sub *tree.SubTable) {
	e.pendingFlush = append(e.pendingFlush, sub)
}

// SendReceiveFlushRequests returns drained imported query subtrees to
// their origins.
func (e *Exchange) SendReceiveFlushRequests() error {
	if e.world == nil {
		return ErrNotInitialized
	}
	for _, sub := range e.pendingFlush {
		if sub.Origin() == e.world.Rank() {
			return fmt.Errorf("%w: %s", ErrSelfFlush, sub.ID())
		}
		f := &Frame{
			Kind: FrameFlushReturn,
			From: e.world.Rank(),
			Flush: &dualtree.QuerySubTableFrame{
				Origin: sub.Origin(),
				Nodes:  tree.Flatten(sub.Node()),
				Result: sub.Result(),
			},
		}
		if err := e.transport.Send(sub.Origin(), f); err != nil {
			return err
		}
	}
	e.pendingFlush = nil
	return nil
}

func (e *Exchange) PushCompletedComputation(quantity uint64) {
	e.pendingCompleted += quantity
}

// QueueLoadBalanceProbe schedules a work request to the given neighbor,
// sent on the next turn.
func (e *Exchange) QueueLoadBalanceProbe(neighbor int, req *dualtree.LoadBalanceRequest) {
	if !e.doLB || neighbor == e.world.Rank() {
		return
	}
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	e.pendingProbe = append(e.pendingProbe, &ProbeFrame{
		Budget: req.ExtraPointsToHold,
		Req:    *req,
	})
	e.probeTargets = append(e.probeTargets, neighbor)
}

// --- the turn --------------------------------------------------------

func (e *Exchange) ReadyToSendReceive() bool {
	return e.world != nil && e.transport != nil
}

// SendReceive runs one exchange turn: announce routes, broadcast
// completed work, send queued probes, then drain the inbox and feed the
// deliveries back into the queue. The queue lock is held throughout.
func (e *Exchange) SendReceive(metric hyperrect.Metric, routes []dualtree.RouteRequest) error {
	self := e.world.Rank()

	for _, r := range routes {
		if _, seen := e.seenRoutes[r.Digest]; seen {
			continue
		}
		e.seenRoutes[r.Digest] = r.CacheID

		node, err := e.refTable.FindByBeginCount(r.ID.Begin, r.ID.Count)
		if err != nil {
			return fmt.Errorf("announce %s: %w", r.ID, err)
		}
		rows, err := e.refTable.Rows(r.ID.Begin, r.ID.Count)
		if err != nil {
			return err
		}
		for peer := 0; peer < e.world.Size(); peer++ {
			if peer == self {
				continue
			}
			err := e.transport.Send(peer, &Frame{
				Kind: FrameRoute,
				From: self,
				Route: &RouteFrame{
					ID:     r.ID,
					Digest: r.Digest,
					Nodes:  tree.Flatten(node),
					Rows:   rows,
				},
			})
			if err != nil {
				return err
			}
		}

		// Self delivery: local reference subtrees generate local tasks
		// through the same path, aliasing the local table on the cache
		// miss.
		err = e.hooks.GenerateTasks(metric, []dualtree.ReceivedRef{{
			Origin:  r.ID.Rank,
			Begin:   r.ID.Begin,
			Count:   r.ID.Count,
			CacheID: r.CacheID,
		}})
		if err != nil {
			return err
		}
	}

	if e.pendingCompleted > 0 {
		for peer := 0; peer < e.world.Size(); peer++ {
			if peer == self {
				continue
			}
			err := e.transport.Send(peer, &Frame{
				Kind:      FrameCompleted,
				From:      self,
				Completed: e.pendingCompleted,
			})
			if err != nil {
				return err
			}
		}
		e.pendingCompleted = 0
	}

	e.probeMu.Lock()
	probes, targets := e.pendingProbe, e.probeTargets
	e.pendingProbe, e.probeTargets = nil, nil
	e.probeMu.Unlock()
	for i, probe := range probes {
		err := e.transport.Send(targets[i], &Frame{
			Kind:  FrameLoadBalanceProbe,
			From:  self,
			Probe: probe,
		})
		if err != nil {
			return err
		}
	}

	return e.drainInbox(metric)
}

func (e *Exchange) drainInbox(metric hyperrect.Metric) error {
	for _, f := range e.transport.Drain() {
		if err := e.handleFrame(metric, f); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exchange) handleFrame(metric hyperrect.Metric, f *Frame) error {
	switch f.Kind {
	case FrameRoute:
		if _, seen := e.seenRoutes[f.Route.Digest]; seen {
			return nil
		}
		sub, err := (&dualtree.RefTableFrame{
			Origin: f.Route.ID.Rank,
			Nodes:  f.Route.Nodes,
			Rows:   f.Route.Rows,
		}).SubTable()
		if err != nil {
			return err
		}
		cacheID := e.PushSubTable(sub, 0)
		e.seenRoutes[f.Route.Digest] = cacheID
		return e.hooks.GenerateTasks(metric, []dualtree.ReceivedRef{{
			Origin:  f.Route.ID.Rank,
			Begin:   f.Route.ID.Begin,
			Count:   f.Route.ID.Count,
			CacheID: cacheID,
		}})

	case FrameCompleted:
		e.hooks.DecrementRemainingGlobal(f.Completed)
		return nil

	case FrameTaskList:
		return e.hooks.ImportExtraTaskList(metric, f.TaskList)

	case FrameFlushReturn:
		root, err := tree.Unflatten(f.Flush.Nodes)
		if err != nil {
			return err
		}
		sub := tree.NewDetachedSubTable(f.Flush.Origin, root, nil)
		sub.SetResult(f.Flush.Result)
		if err := e.hooks.Synchronize(sub); err != nil {
			// A return that matches nothing checked out means the two
			// sides disagree about who holds the subtree.
			e.log.Fatal().Err(err).Msg("flush return did not synchronize")
		}
		return nil

	case FrameLoadBalanceProbe:
		lst := e.hooks.PrepareExtraTaskList(metric, f.From, f.Probe.Budget, &f.Probe.Req)
		if len(lst.Queues) == 0 {
			return nil
		}
		return e.transport.Send(f.From, &Frame{
			Kind:     FrameTaskList,
			From:     e.world.Rank(),
			TaskList: lst,
		})
	}
	return fmt.Errorf("unknown frame kind %d from %d", f.Kind, f.From)
}

// --- observables -----------------------------------------------------

func (e *Exchange) ProcessRank(rank int) int {
	d := rank - e.world.Rank()
	if d < 0 {
		d = -d
	}
	return d
}

func (e *Exchange) RemainingExtraPointsToHold() uint64 {
	held := e.cache.heldPoints()
	if held >= e.holdBudget {
		return 0
	}
	return e.holdBudget - held
}

// CanTerminate holds when nothing is parked on this endpoint: no queued
// flushes, probes, or unsent completed-work, and an empty inbox.
func (e *Exchange) CanTerminate() bool {
	if len(e.pendingFlush) > 0 || e.pendingCompleted > 0 {
		return false
	}
	e.probeMu.Lock()
	probes := len(e.pendingProbe)
	e.probeMu.Unlock()
	if probes > 0 {
		return false
	}
	if pr, ok := e.transport.(interface{ Parked() int }); ok && pr.Parked() > 0 {
		return false
	}
	return true
}

func (e *Exchange) DoLoadBalancing() bool { return e.doLB }
