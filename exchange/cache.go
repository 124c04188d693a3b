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

	"github.com/dgraph-io/badger/v4"
	"github.com/google/orderedcode"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/tree"
)

var ErrSpilledEntryLost = errors.New("spilled subtable missing from the spill store")

const victimListSize = 64

// cacheEntry tracks one cache slot. sub is nil for alias slots (views of
// the local table) and for entries spilled to disk.
type cacheEntry struct {
	sub      *tree.SubTable
	refcount int
	points   int
	spillKey []byte
	alias    bool
}

// subtableCache is the refcounted store of reference subtables received
// off the wire. Slots whose refcount drains to zero move to a bounded
// victim list; overflowing victims spill their payload to badger and are
// reloaded on demand. All calls happen under the queue lock.
type subtableCache struct {
	entries map[int]*cacheEntry
	nextID  int

	victims *lru.Cache[int, struct{}]
	spill   *badger.DB

	integrity func(tree.ID) bool
	log       zerolog.Logger
}

func newSubtableCache(spill *badger.DB, integrity func(tree.ID) bool, logger zerolog.Logger) (*subtableCache, error) {
	c := &subtableCache{
		entries:   make(map[int]*cacheEntry),
		nextID:    1,
		spill:     spill,
		integrity: integrity,
		log:       logger,
	}
	victims, err := lru.NewWithEvict[int, struct{}](victimListSize, func(id int, _ struct{}) {
		c.spillVictim(id)
	})
	if err != nil {
		return nil, err
	}
	c.victims = victims
	return c, nil
}

// reserveAlias hands out a cache id for a subtable that stays a view of
// the local table. Alias slots never hold a payload; they exist so lock
// and release bookkeeping is uniform across local and remote references.
func (c *subtableCache) reserveAlias(points int) int {
	id := c.nextID
	c.nextID++
	c.entries[id] = &cacheEntry{points: points, alias: true}
	return id
}

func (c *subtableCache) push(sub *tree.SubTable, refCount int) int {
	id := c.nextID
	c.nextID++
	c.entries[id] = &cacheEntry{
		sub:      sub,
		refcount: refCount,
		points:   sub.Node().Count(),
	}
	if refCount == 0 {
		c.victims.Add(id, struct{}{})
	}
	return id
}

func (c *subtableCache) find(id int) *tree.SubTable {
	e, ok := c.entries[id]
	if !ok || e.alias {
		return nil
	}
	if e.sub == nil && e.spillKey != nil {
		c.reload(id, e)
	}
	return e.sub
}

func (c *subtableCache) lock(id, n int) {
	e, ok := c.entries[id]
	if !ok {
		// First lock against an id this cache holds no entry for;
		// materialize an alias bookkeeping slot.
		e = &cacheEntry{alias: true}
		c.entries[id] = e
		if id >= c.nextID {
			c.nextID = id + 1
		}
	}
	e.refcount += n
	c.victims.Remove(id)
}

func (c *subtableCache) release(id, n int) {
	e, ok := c.entries[id]
	if !ok || e.refcount < n {
		c.log.Fatal().
			Int("cache_id", id).
			Int("release", n).
			Msg("cache release without matching lock")
	}
	e.refcount -= n
	if e.refcount == 0 && !e.alias {
		c.victims.Add(id, struct{}{})
	}
}

// spillVictim runs when the victim list overflows. A zero-refcount slot
// must no longer be referenced by any task; a hit here means the lock
// and release bookkeeping diverged. lock's explicit removal from the
// victim list also lands here; the entry holds references again by then
// and stays as it is.
func (c *subtableCache) spillVictim(id int) {
	e, ok := c.entries[id]
	if !ok || e.sub == nil || e.refcount > 0 {
		return
	}
	if c.integrity != nil && c.integrity(e.sub.ID()) {
		c.log.Fatal().
			Str("subtable", e.sub.ID().String()).
			Msg("evicting a cached subtable still referenced by tasks")
	}
	if c.spill == nil {
		delete(c.entries, id)
		return
	}
	key, err := spillKey(e.sub.ID())
	if err != nil {
		c.log.Fatal().Err(err).Msg("spill key encoding failed")
	}
	rows, err := e.sub.Rows()
	if err != nil {
		c.log.Fatal().Err(err).Msg("spill payload unavailable")
	}
	raw, err := msgpack.Marshal(&dualtree.RefTableFrame{
		Origin: e.sub.Origin(),
		Nodes:  tree.Flatten(e.sub.Node()),
		Rows:   rows,
	})
	if err != nil {
		c.log.Fatal().Err(err).Msg("spill payload encoding failed")
	}
	err = c.spill.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		c.log.Error().Err(err).Str("subtable", e.sub.ID().String()).
			Msg("spill write failed, keeping the subtable in memory")
		return
	}
	e.spillKey = key
	e.sub = nil
}

func (c *subtableCache) reload(id int, e *cacheEntry) {
	var raw []byte
	err := c.spill.View(func(txn *badger.Txn) error {
		item, err := txn.Get(e.spillKey)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		c.log.Fatal().Err(err).Int("cache_id", id).
			Msg(ErrSpilledEntryLost.Error())
	}
	var frame dualtree.RefTableFrame
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		c.log.Fatal().Err(err).Int("cache_id", id).
			Msg("spilled subtable decode failed")
	}
	sub, err := frame.SubTable()
	if err != nil {
		c.log.Fatal().Err(err).Int("cache_id", id).
			Msg("spilled subtable rebuild failed")
	}
	sub.SetCacheBlock(id)
	e.sub = sub
}

// heldPoints sums the points of payload-bearing entries, the measure of
// how much extra data this process is holding for peers.
func (c *subtableCache) heldPoints() uint64 {
	var n uint64
	for _, e := range c.entries {
		if !e.alias && (e.sub != nil || e.spillKey != nil) {
			n += uint64(e.points)
		}
	}
	return n
}

func spillKey(id tree.ID) ([]byte, error) {
	return orderedcode.Append(nil,
		uint64(id.Rank), uint64(id.Begin), uint64(id.Count))
}
