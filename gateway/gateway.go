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

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/internal"
)

const statusInterval = time.Second

// Gateway streams live queue snapshots to websocket subscribers. Meant
// for watching a long batch run, not for control.
type Gateway struct {
	queue    *dualtree.TaskQueue
	notify   *internal.Notificator[dualtree.QueueSnapshot]
	upgrader websocket.Upgrader
	server   *http.Server
	stop     chan struct{}
	log      zerolog.Logger
}

func New(queue *dualtree.TaskQueue, logger zerolog.Logger) *Gateway {
	return &Gateway{
		queue:  queue,
		notify: internal.NewNotificator[dualtree.QueueSnapshot](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 10,
			WriteBufferSize: 1 << 14,
		},
		stop: make(chan struct{}),
		log:  logger.With().Str("component", "gateway").Logger(),
	}
}

func (g *Gateway) Serve(addr string) error {
	go g.publish()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", g.handleStatus)
	g.server = &http.Server{Addr: addr, Handler: mux}
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	close(g.stop)
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// publish snapshots the queue on a fixed cadence while anyone is
// listening.
func (g *Gateway) publish() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if g.notify.Subscribers() == 0 {
				continue
			}
			g.notify.Broadcast(g.queue.Snapshot())
		}
	}
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, id := g.notify.Create(4)
	defer g.notify.Remove(id)
	g.log.Debug().Str("subscriber", id.String()).Msg("status watcher attached")

	for snap := range updates {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}
