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
	"sort"

	"github.com/google/btree"

	"github.com/sjy-dv/quiver/pkg/hyperrect"
)

var (
	ErrEmptyTable    = errors.New("cannot build a tree over an empty table")
	ErrRaggedPoints  = errors.New("points have mismatched dimensions")
	ErrNodeNotFound  = errors.New("no node with the requested begin/count")
	ErrBadPointRange = errors.New("point range outside the local table")
)

// Table is one process's shard of a distributed point set, indexed by a
// balanced kd split. Node ranges are contiguous after the build permutes
// the rows.
type Table struct {
	rank   int
	dim    int
	points [][]float32
	root   *Node

	byRange *btree.BTreeG[*Node]
}

func nodeLess(a, b *Node) bool {
	if a.begin != b.begin {
		return a.begin < b.begin
	}
	return a.count < b.count
}

// BuildTable splits points into a balanced kd tree with leaves of at most
// leafSize rows. The slice is permuted in place.
func BuildTable(rank int, points [][]float32, leafSize int) (*Table, error) {
	if len(points) == 0 {
		return nil, ErrEmptyTable
	}
	dim := len(points[0])
	for _, p := range points {
		if len(p) != dim {
			return nil, ErrRaggedPoints
		}
	}
	if leafSize < 1 {
		leafSize = 1
	}
	t := &Table{
		rank:    rank,
		dim:     dim,
		points:  points,
		byRange: btree.NewG[*Node](8, nodeLess),
	}
	t.root = t.split(0, len(points), leafSize)
	return t, nil
}

func (t *Table) split(begin, end, leafSize int) *Node {
	n := &Node{begin: begin, count: end - begin, bound: hyperrect.NewBound(t.dim)}
	for i := begin; i < end; i++ {
		n.bound.Expand(t.points[i])
	}
	if n.count > leafSize {
		d := widestDim(n.bound)
		mid := begin + n.count/2
		rows := t.points[begin:end]
		sort.Slice(rows, func(i, j int) bool { return rows[i][d] < rows[j][d] })
		n.left = t.split(begin, mid, leafSize)
		n.right = t.split(mid, end, leafSize)
	}
	t.byRange.ReplaceOrInsert(n)
	return n
}

func widestDim(b hyperrect.Bound) int {
	best, width := 0, float32(-1)
	for i := range b.Lo {
		if w := b.Hi[i] - b.Lo[i]; w > width {
			width = w
			best = i
		}
	}
	return best
}

func (t *Table) Rank() int  { return t.rank }
func (t *Table) Dim() int   { return t.dim }
func (t *Table) N() int     { return len(t.points) }
func (t *Table) Root() *Node { return t.root }

// Point returns the row at the table-local index.
func (t *Table) Point(i int) []float32 { return t.points[i] }

// Rows returns the rows of [begin, begin+count).
func (t *Table) Rows(begin, count int) ([][]float32, error) {
	if begin < 0 || begin+count > len(t.points) {
		return nil, ErrBadPointRange
	}
	return t.points[begin : begin+count], nil
}

// FindByBeginCount resolves the tree node exactly covering the range.
func (t *Table) FindByBeginCount(begin, count int) (*Node, error) {
	probe := &Node{begin: begin, count: count}
	if n, ok := t.byRange.Get(probe); ok {
		return n, nil
	}
	return nil, ErrNodeNotFound
}

// FrontierBoundedByNumber expands the root into at least want subtrees,
// splitting the largest expandable node first. Fewer come back only when
// the tree runs out of internal nodes.
func (t *Table) FrontierBoundedByNumber(want int) []*Node {
	frontier := []*Node{t.root}
	for len(frontier) < want {
		split := -1
		for i, n := range frontier {
			if n.IsLeaf() {
				continue
			}
			if split < 0 || n.count > frontier[split].count {
				split = i
			}
		}
		if split < 0 {
			break
		}
		n := frontier[split]
		frontier[split] = n.left
		frontier = append(frontier, n.right)
	}
	return frontier
}
