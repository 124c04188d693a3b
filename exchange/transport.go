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
	"sync"
)

var ErrUnknownPeer = errors.New("no transport endpoint for rank")

// Transport delivers frames between exchange peers. Send must be
// short-polled or non-blocking; Drain hands back everything parked in
// the inbox since the last call.
type Transport interface {
	Send(rank int, f *Frame) error
	Drain() []*Frame
	Close() error
}

// LoopbackTransport wires a world of in-process endpoints together.
// Used by tests and single-process runs.
type LoopbackTransport struct {
	rank  int
	peers []*LoopbackTransport

	mu    sync.Mutex
	inbox []*Frame
}

// NewLoopbackWorld builds size endpoints sharing one in-memory fabric.
func NewLoopbackWorld(size int) []*LoopbackTransport {
	world := make([]*LoopbackTransport, size)
	for i := range world {
		world[i] = &LoopbackTransport{rank: i}
	}
	for i := range world {
		world[i].peers = world
	}
	return world
}

func (t *LoopbackTransport) Send(rank int, f *Frame) error {
	if rank < 0 || rank >= len(t.peers) {
		return ErrUnknownPeer
	}
	peer := t.peers[rank]
	peer.mu.Lock()
	peer.inbox = append(peer.inbox, f)
	peer.mu.Unlock()
	return nil
}

func (t *LoopbackTransport) Drain() []*Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.inbox
	t.inbox = nil
	return out
}

// Parked reports undrained inbox frames, used by termination checks.
func (t *LoopbackTransport) Parked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbox)
}

func (t *LoopbackTransport) Close() error { return nil }
