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

import "github.com/sjy-dv/quiver/tree"

// LoadBalanceRequest is the snapshot a starved process sends a neighbor:
// which query subtrees it already holds, how much local work it has
// left, and how many extra points it can still take on. The neighbor
// uses it to pick exports that are not already owned by the requester.
type LoadBalanceRequest struct {
	OwnedIDs          []tree.ID `msgpack:"owned"`
	RemainingLocal    uint64    `msgpack:"remaining_local"`
	ExtraPointsToHold uint64    `msgpack:"extra_points"`

	owned map[tree.ID]struct{}
}

// QuerySubtableIsOwned reports whether the requester already holds the
// query subtree.
func (r *LoadBalanceRequest) QuerySubtableIsOwned(id tree.ID) bool {
	if r.owned == nil {
		r.owned = make(map[tree.ID]struct{}, len(r.OwnedIDs))
		for _, o := range r.OwnedIDs {
			r.owned[o] = struct{}{}
		}
	}
	_, ok := r.owned[id]
	return ok
}
