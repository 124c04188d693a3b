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
	"context"
	"net"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/sjy-dv/quiver/cluster"
)

const deliverMethod = "/quiver.Exchange/Deliver"

// DeliverAck is the empty reply to a frame delivery.
type DeliverAck struct{}

// GrpcTransport ships frames between peers over grpc with the msgpack
// codec; no protobuf messages are generated. Inbound frames park in an
// inbox until the exchange drains them under the queue lock.
type GrpcTransport struct {
	conn   *cluster.Conn
	server *grpc.Server

	mu    sync.Mutex
	inbox []*Frame

	log zerolog.Logger
}

func NewGrpcTransport(conn *cluster.Conn, logger zerolog.Logger) *GrpcTransport {
	return &GrpcTransport{
		conn: conn,
		log:  logger.With().Str("component", "exchange-grpc").Logger(),
	}
}

// Serve starts the delivery endpoint on lis and blocks until the server
// stops.
func (t *GrpcTransport) Serve(lis net.Listener) error {
	t.server = grpc.NewServer(
		grpc.UnaryInterceptor(recovery.UnaryServerInterceptor(
			recovery.WithRecoveryHandler(func(p any) error {
				t.log.Error().Interface("panic", p).Msg("recovered in delivery handler")
				return nil
			}),
		)),
	)
	t.server.RegisterService(&deliverServiceDesc, t)
	return t.server.Serve(lis)
}

func (t *GrpcTransport) Stop() {
	if t.server != nil {
		t.server.GracefulStop()
	}
}

// Deliver parks one frame in the inbox.
func (t *GrpcTransport) Deliver(_ context.Context, f *Frame) (*DeliverAck, error) {
	t.mu.Lock()
	t.inbox = append(t.inbox, f)
	t.mu.Unlock()
	return &DeliverAck{}, nil
}

func (t *GrpcTransport) Send(rank int, f *Frame) error {
	cc, err := t.conn.NewDial(rank)
	if err != nil {
		return err
	}
	var ack DeliverAck
	return cc.Invoke(context.Background(), deliverMethod, f, &ack)
}

func (t *GrpcTransport) Drain() []*Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.inbox
	t.inbox = nil
	return out
}

func (t *GrpcTransport) Parked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbox)
}

func (t *GrpcTransport) Close() error {
	t.Stop()
	t.conn.Close()
	return nil
}

func deliverHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*GrpcTransport).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*GrpcTransport).Deliver(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

var deliverServiceDesc = grpc.ServiceDesc{
	ServiceName: "quiver.Exchange",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}
