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

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

var ErrPeerAddrNotFound = "peer [%d] addr not found."

// Conn manages the grpc client connections to every peer rank.
type Conn struct {
	rank         int
	addr         string
	peerAddrs    map[int]string
	peerAddrsMu  sync.RWMutex
	peerConns    map[int]*grpc.ClientConn
	peerConnsMu  sync.RWMutex

	transportCredentials credentials.TransportCredentials

	log zerolog.Logger
}

func NewConn(rank int, addr string, tlsCert string, logger zerolog.Logger) (*Conn, error) {
	c := &Conn{
		rank:      rank,
		addr:      addr,
		peerAddrs: make(map[int]string),
		peerConns: make(map[int]*grpc.ClientConn),
		log:       logger.With().Int("rank", rank).Logger(),
	}

	if tlsCert != "" {
		var err error
		c.transportCredentials, err = credentials.NewClientTLSFromFile(tlsCert, "quiver-cluster")
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (this *Conn) GetRank() int    { return this.rank }
func (this *Conn) GetAddr() string { return this.addr }

func (this *Conn) Close() {
	this.peerConnsMu.Lock()
	defer this.peerConnsMu.Unlock()

	for _, conn := range this.peerConns {
		if err := conn.Close(); err != nil {
			this.log.Error().Err(err).Msg("peer connection closing error")
		}
	}
}

// ProvisioningPeer registers a peer's address.
func (this *Conn) ProvisioningPeer(rank int, addr string) {
	this.peerAddrsMu.Lock()
	defer this.peerAddrsMu.Unlock()

	if _, exists := this.peerAddrs[rank]; !exists {
		this.peerAddrs[rank] = addr
		this.log.Info().Int("peer", rank).Str("addr", addr).Msg("provisioning peer")
	}
}

func (this *Conn) DeProvisioningPeer(rank int) {
	this.peerAddrsMu.Lock()
	defer this.peerAddrsMu.Unlock()
	this.peerConnsMu.Lock()
	defer this.peerConnsMu.Unlock()

	if _, exists := this.peerAddrs[rank]; exists {
		delete(this.peerAddrs, rank)
		if conn, exists := this.peerConns[rank]; exists {
			if err := conn.Close(); err != nil {
				this.log.Error().Err(err).Msg("grpc connection closing error")
			}
			delete(this.peerConns, rank)
		}
		this.log.Info().Int("peer", rank).Msg("deprovisioning peer")
	}
}

// NewDial returns the cached connection to the peer, dialing on first
// use.
func (this *Conn) NewDial(rank int) (*grpc.ClientConn, error) {
	conn := this.loadCacheConn(rank)
	if conn != nil {
		return conn, nil
	}
	addr, err := this.findAddr(rank)
	if err != nil {
		return nil, err
	}
	conn, err = grpc.NewClient(addr, this.grpcDefaultDialOpts()...)
	if err != nil {
		return nil, err
	}

	this.peerConnsMu.Lock()
	defer this.peerConnsMu.Unlock()
	if existsConn, exists := this.peerConns[rank]; exists {
		conn.Close()
		return existsConn, nil
	}
	this.peerConns[rank] = conn
	return conn, nil
}

func (this *Conn) loadCacheConn(rank int) *grpc.ClientConn {
	this.peerConnsMu.RLock()
	defer this.peerConnsMu.RUnlock()
	if conn, exists := this.peerConns[rank]; exists {
		return conn
	}
	return nil
}

func (this *Conn) findAddr(rank int) (string, error) {
	this.peerAddrsMu.RLock()
	defer this.peerAddrsMu.RUnlock()

	if addr, exists := this.peerAddrs[rank]; exists {
		return addr, nil
	}
	return "", fmt.Errorf(ErrPeerAddrNotFound, rank)
}

func (this *Conn) grpcDefaultDialOpts() []grpc.DialOption {
	opts := make([]grpc.DialOption, 0)
	if this.transportCredentials != nil {
		opts = append(opts, grpc.WithTransportCredentials(this.transportCredentials))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	return opts
}
