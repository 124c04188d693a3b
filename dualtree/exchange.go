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
	"github.com/sjy-dv/quiver/cluster"
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/tree"
)

// ReceivedRef identifies a reference subtree delivered by the exchange,
// together with the cache slot its subtable landed in.
type ReceivedRef struct {
	Origin  int
	Begin   int
	Count   int
	CacheID int
}

// RouteRequest is one reference subtree this process wants routed to its
// peers. The digest deduplicates re-announcements across turns.
type RouteRequest struct {
	ID      tree.ID
	CacheID int
	Digest  uint64
}

// Exchange is the table-exchange collaborator the queue drives. It moves
// subtables between processes, keeps the refcounted reference cache, and
// routes completed-work broadcasts. Every method is called with the
// queue's lock held.
type Exchange interface {
	Init(
		world *cluster.World,
		maxSubtreeSize int,
		doLoadBalancing bool,
		queryTable, referenceTable *tree.Table,
		hooks Hooks,
	) error

	LockCache(cacheID, n int)
	ReleaseCache(cacheID, n int)
	FindSubTable(cacheID int) *tree.SubTable
	FindByBeginCount(begin, count int) (*tree.Node, error)
	LocalTable() *tree.Table

	// PushSubTable admits a received subtable into the cache with the
	// given initial refcount, returning the cache slot.
	PushSubTable(sub *tree.SubTable, refCount int) int

	QueueFlushRequest(sub *tree.SubTable)
	SendReceiveFlushRequests() error
	ReadyToSendReceive() bool
	SendReceive(metric hyperrect.Metric, routes []RouteRequest) error

	PushCompletedComputation(quantity uint64)
	ProcessRank(rank int) int
	RemainingExtraPointsToHold() uint64
	CanTerminate() bool
	DoLoadBalancing() bool
}

// Hooks is the queue surface the exchange calls back into on delivery.
// The exchange invokes these from inside queue.SendReceive, and
// CheckIntegrity also from cache calls the queue makes under its lock,
// so the queue lock is already held; implementations must not re-lock.
type Hooks interface {
	PushNewQueue(originRank int, sub *tree.SubTable) int
	GenerateTasks(metric hyperrect.Metric, received []ReceivedRef) error
	Synchronize(sub *tree.SubTable) error
	ImportExtraTaskList(metric hyperrect.Metric, list *TaskListFrame) error
	PrepareExtraTaskList(
		metric hyperrect.Metric,
		neighborRank int,
		neighborBudget uint64,
		neighborReq *LoadBalanceRequest,
	) *TaskListFrame
	DecrementRemainingGlobal(quantity uint64)
	CheckIntegrity(destructID tree.ID) bool
}
