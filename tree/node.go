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
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/sjy-dv/quiver/pkg/hyperrect"
)

// ID names a contiguous index range of a process's local point table.
type ID struct {
	Rank  int `msgpack:"rank"`
	Begin int `msgpack:"begin"`
	Count int `msgpack:"count"`
}

func (id ID) End() int { return id.Begin + id.Count }

// Includes reports whether id's range covers other's range on the same rank.
func (id ID) Includes(other ID) bool {
	return id.Rank == other.Rank &&
		id.Begin <= other.Begin &&
		other.End() <= id.End()
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d+%d", id.Rank, id.Begin, id.Count)
}

func (id ID) Hash() uint64 {
	var b [24]byte
	put := func(off int, v int) {
		for i := 0; i < 8; i++ {
			b[off+i] = byte(uint64(v) >> (8 * i))
		}
	}
	put(0, id.Rank)
	put(8, id.Begin)
	put(16, id.Count)
	return xxhash.Sum64(b[:])
}

// Node is a subtree of the kd split over a table's point range.
type Node struct {
	begin int
	count int
	bound hyperrect.Bound
	left  *Node
	right *Node
}

func (n *Node) Begin() int               { return n.begin }
func (n *Node) Count() int               { return n.count }
func (n *Node) End() int                 { return n.begin + n.count }
func (n *Node) Bound() hyperrect.Bound   { return n.bound }
func (n *Node) IsLeaf() bool             { return n.left == nil }
func (n *Node) Left() *Node              { return n.left }
func (n *Node) Right() *Node             { return n.right }

// FlatNode is the wire form of a subtree node, pre-order flattened.
type FlatNode struct {
	Begin int             `msgpack:"begin"`
	Count int             `msgpack:"count"`
	Bound hyperrect.Bound `msgpack:"bound"`
	Leaf  bool            `msgpack:"leaf"`
}

// Flatten serializes the subtree rooted at n in pre-order.
func Flatten(n *Node) []FlatNode {
	var out []FlatNode
	var walk func(*Node)
	walk = func(cur *Node) {
		out = append(out, FlatNode{
			Begin: cur.begin,
			Count: cur.count,
			Bound: cur.bound,
			Leaf:  cur.IsLeaf(),
		})
		if !cur.IsLeaf() {
			walk(cur.left)
			walk(cur.right)
		}
	}
	walk(n)
	return out
}

// Unflatten rebuilds a subtree from its pre-order wire form.
func Unflatten(flat []FlatNode) (*Node, error) {
	if len(flat) == 0 {
		return nil, fmt.Errorf("empty node frame")
	}
	pos := 0
	var build func() (*Node, error)
	build = func() (*Node, error) {
		if pos >= len(flat) {
			return nil, fmt.Errorf("truncated node frame at %d", pos)
		}
		f := flat[pos]
		pos++
		n := &Node{begin: f.Begin, count: f.Count, bound: f.Bound}
		if !f.Leaf {
			var err error
			if n.left, err = build(); err != nil {
				return nil, err
			}
			if n.right, err = build(); err != nil {
				return nil, err
			}
		}
		return n, nil
	}
	root, err := build()
	if err != nil {
		return nil, err
	}
	if pos != len(flat) {
		return nil, fmt.Errorf("node frame has %d trailing entries", len(flat)-pos)
	}
	return root, nil
}
