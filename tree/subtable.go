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

package tree

import (
	"errors"

	"github.com/sjy-dv/quiver/pkg/hyperrect"
)

var ErrDetachedRange = errors.New("row range outside the shipped block")

// NoCacheBlock marks a subtable aliasing the local table rather than a
// slot of the exchange cache.
const NoCacheBlock = -1

// SubTable is a view of a subtree's point range. It either aliases a
// local Table or carries its own shipped rows after crossing the wire.
type SubTable struct {
	node *Node

	table      *Table
	origin     int
	cacheBlock int

	rows     [][]float32
	rowsBase int

	result *ResultBlock
}

// NewSubTable aliases a node of a local table.
func NewSubTable(t *Table, n *Node) *SubTable {
	return &SubTable{
		table:      t,
		node:       n,
		origin:     t.Rank(),
		cacheBlock: NoCacheBlock,
	}
}

// NewDetachedSubTable wraps a subtree received off the wire together with
// its shipped rows. rows must cover exactly the node's range.
func NewDetachedSubTable(origin int, n *Node, rows [][]float32) *SubTable {
	return &SubTable{
		node:       n,
		origin:     origin,
		cacheBlock: NoCacheBlock,
		rows:       rows,
		rowsBase:   n.Begin(),
	}
}

// Alias returns a shallow copy viewing the same storage. Used when a
// split re-points one view at a child node.
func (s *SubTable) Alias() *SubTable {
	dup := *s
	return &dup
}

func (s *SubTable) Node() *Node               { return s.node }
func (s *SubTable) SetNode(n *Node)           { s.node = n }
func (s *SubTable) Bound() hyperrect.Bound    { return s.node.Bound() }
func (s *SubTable) Table() *Table             { return s.table }
func (s *SubTable) Origin() int               { return s.origin }
func (s *SubTable) SetOrigin(rank int)        { s.origin = rank }
func (s *SubTable) CacheBlock() int           { return s.cacheBlock }
func (s *SubTable) SetCacheBlock(id int)      { s.cacheBlock = id }
func (s *SubTable) Result() *ResultBlock      { return s.result }
func (s *SubTable) SetResult(r *ResultBlock)  { s.result = r }

func (s *SubTable) ID() ID {
	return ID{Rank: s.origin, Begin: s.node.Begin(), Count: s.node.Count()}
}

// Rows returns the point rows of the current node.
func (s *SubTable) Rows() ([][]float32, error) {
	if s.table != nil {
		return s.table.Rows(s.node.Begin(), s.node.Count())
	}
	lo := s.node.Begin() - s.rowsBase
	hi := lo + s.node.Count()
	if lo < 0 || hi > len(s.rows) {
		return nil, ErrDetachedRange
	}
	return s.rows[lo:hi], nil
}

// ResultBlock accumulates per-query-point partial results for a
// contiguous range. It ships with exported query subtrees and is merged
// back on return.
type ResultBlock struct {
	Begin  int       `msgpack:"begin"`
	Values []float64 `msgpack:"values"`
}

func NewResultBlock(begin, count int) *ResultBlock {
	return &ResultBlock{Begin: begin, Values: make([]float64, count)}
}

// Slice copies out the sub-range [begin, begin+count).
func (r *ResultBlock) Slice(begin, count int) *ResultBlock {
	out := NewResultBlock(begin, count)
	copy(out.Values, r.Values[begin-r.Begin:begin-r.Begin+count])
	return out
}

// MergeFrom overwrites this block's overlap with other's values.
func (r *ResultBlock) MergeFrom(other *ResultBlock) {
	for i, v := range other.Values {
		idx := other.Begin + i - r.Begin
		if idx >= 0 && idx < len(r.Values) {
			r.Values[idx] = v
		}
	}
}

// Add accumulates v for the query point at table index i.
func (r *ResultBlock) Add(i int, v float64) {
	r.Values[i-r.Begin] += v
}
