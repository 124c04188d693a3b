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

package interval

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// DisjointSet records half-open integer intervals keyed by the rank that
// owns the underlying points. An interval is accepted only when it does
// not overlap anything already recorded under the same rank.
type DisjointSet struct {
	perRank map[int]*roaring.Bitmap
}

func NewDisjointSet() *DisjointSet {
	return &DisjointSet{
		perRank: make(map[int]*roaring.Bitmap),
	}
}

// NewDisjointSetFrom deep-copies another set. The copy shares nothing with
// the original.
func NewDisjointSetFrom(other *DisjointSet) *DisjointSet {
	s := NewDisjointSet()
	for rank, bm := range other.perRank {
		s.perRank[rank] = bm.Clone()
	}
	return s
}

// Insert records [begin, end) under rank iff it is disjoint from every
// interval already held for that rank. Returns false without mutation on
// overlap or on an empty interval.
func (s *DisjointSet) Insert(rank, begin, end int) bool {
	if begin >= end || begin < 0 {
		return false
	}
	bm, ok := s.perRank[rank]
	if !ok {
		bm = roaring.NewBitmap()
		s.perRank[rank] = bm
	}
	if bm.IntersectsWithInterval(uint64(begin), uint64(end)) {
		return false
	}
	bm.AddRange(uint64(begin), uint64(end))
	return true
}

// Contains reports whether [begin, end) is fully covered under rank.
func (s *DisjointSet) Contains(rank, begin, end int) bool {
	bm, ok := s.perRank[rank]
	if !ok || begin >= end {
		return false
	}
	for i := begin; i < end; i++ {
		if !bm.Contains(uint32(i)) {
			return false
		}
	}
	return true
}

// NumPoints returns the total number of covered points across all ranks.
func (s *DisjointSet) NumPoints() uint64 {
	var n uint64
	for _, bm := range s.perRank {
		n += bm.GetCardinality()
	}
	return n
}

// Ranks returns the ranks with at least one recorded interval, ascending.
func (s *DisjointSet) Ranks() []int {
	ranks := make([]int, 0, len(s.perRank))
	for rank, bm := range s.perRank {
		if !bm.IsEmpty() {
			ranks = append(ranks, rank)
		}
	}
	sort.Ints(ranks)
	return ranks
}

// Marshal serializes the set for shipping a checked-out query subtree to
// a peer. The assigned work must travel with the query state so the two
// sides cannot double-enqueue the same reference interval.
func (s *DisjointSet) Marshal() (map[int][]byte, error) {
	out := make(map[int][]byte, len(s.perRank))
	for rank, bm := range s.perRank {
		raw, err := bm.ToBytes()
		if err != nil {
			return nil, err
		}
		out[rank] = raw
	}
	return out, nil
}

func UnmarshalDisjointSet(raw map[int][]byte) (*DisjointSet, error) {
	s := NewDisjointSet()
	for rank, buf := range raw {
		bm := roaring.NewBitmap()
		if err := bm.UnmarshalBinary(buf); err != nil {
			return nil, err
		}
		s.perRank[rank] = bm
	}
	return s, nil
}
