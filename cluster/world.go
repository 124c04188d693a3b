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

package cluster

import "errors"

var ErrBadWorldShape = errors.New("per-rank point counts do not match world size")

// World is one process's view of the computation group: its own rank and
// the per-rank point counts agreed at startup.
type World struct {
	rank        int
	queryCounts []uint64
	refCounts   []uint64
}

func NewWorld(rank int, queryCounts, refCounts []uint64) (*World, error) {
	if len(queryCounts) != len(refCounts) || rank < 0 || rank >= len(queryCounts) {
		return nil, ErrBadWorldShape
	}
	return &World{rank: rank, queryCounts: queryCounts, refCounts: refCounts}, nil
}

func (w *World) Rank() int { return w.rank }
func (w *World) Size() int { return len(w.queryCounts) }

func (w *World) QueryCount(rank int) uint64 { return w.queryCounts[rank] }
func (w *World) RefCount(rank int) uint64   { return w.refCounts[rank] }

func (w *World) TotalQueryPoints() uint64 {
	var n uint64
	for _, c := range w.queryCounts {
		n += c
	}
	return n
}

func (w *World) TotalReferencePoints() uint64 {
	var n uint64
	for _, c := range w.refCounts {
		n += c
	}
	return n
}
