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
	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/tree"
)

type FrameKind uint8

const (
	FrameRoute FrameKind = iota + 1
	FrameCompleted
	FrameTaskList
	FrameFlushReturn
	FrameLoadBalanceProbe
)

// RouteFrame announces a reference subtree to a peer, payload included.
type RouteFrame struct {
	ID     tree.ID         `msgpack:"id"`
	Digest uint64          `msgpack:"digest"`
	Nodes  []tree.FlatNode `msgpack:"nodes"`
	Rows   [][]float32     `msgpack:"rows"`
}

// ProbeFrame asks a neighbor for extra work.
type ProbeFrame struct {
	Budget uint64                     `msgpack:"budget"`
	Req    dualtree.LoadBalanceRequest `msgpack:"req"`
}

// Frame is the single wire envelope between exchange peers.
type Frame struct {
	Kind      FrameKind                    `msgpack:"kind"`
	From      int                          `msgpack:"from"`
	Route     *RouteFrame                  `msgpack:"route,omitempty"`
	Completed uint64                       `msgpack:"completed,omitempty"`
	TaskList  *dualtree.TaskListFrame      `msgpack:"task_list,omitempty"`
	Flush     *dualtree.QuerySubTableFrame `msgpack:"flush,omitempty"`
	Probe     *ProbeFrame                  `msgpack:"probe,omitempty"`
}
