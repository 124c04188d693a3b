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

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/exchange"
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/tree"
)

// Kernel is the per-task numeric computation. It reads both subtables
// and accumulates into the query side's result block.
type Kernel func(metric hyperrect.Metric, t *dualtree.Task) error

// PairCountKernel is the default: it credits each query point with the
// number of reference points paired against it. Useful as a smoke
// kernel because full coverage makes every result equal the global
// reference count.
func PairCountKernel(_ hyperrect.Metric, t *dualtree.Task) error {
	qNode := t.Query.Node()
	res := t.Query.Result()
	if res == nil {
		return nil
	}
	refCount := float64(t.Reference.Node().Count())
	for i := qNode.Begin(); i < qNode.End(); i++ {
		res.Add(i, refCount)
	}
	return nil
}

const idleWait = 200 * time.Microsecond

// Pool runs numThreads dequeue loops plus one driver goroutine that
// advances the exchange. Run returns when the computation terminates or
// the context is canceled.
type Pool struct {
	queue      *dualtree.TaskQueue
	ex         *exchange.Exchange
	metric     hyperrect.Metric
	numThreads int
	kernel     Kernel
	log        zerolog.Logger
}

func NewPool(
	queue *dualtree.TaskQueue,
	ex *exchange.Exchange,
	metric hyperrect.Metric,
	numThreads int,
	kernel Kernel,
	logger zerolog.Logger,
) *Pool {
	if numThreads < 1 {
		numThreads = 1
	}
	if kernel == nil {
		kernel = PairCountKernel
	}
	return &Pool{
		queue:      queue,
		ex:         ex,
		metric:     metric,
		numThreads: numThreads,
		kernel:     kernel,
		log:        logger.With().Str("component", "worker-pool").Logger(),
	}
}

func (p *Pool) Run(ctx context.Context) error {
	routes := p.ex.PlanEssentialRoutes()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.drive(ctx, routes) })
	for i := 0; i < p.numThreads; i++ {
		id := i
		g.Go(func() error { return p.work(ctx, id) })
	}
	return g.Wait()
}

// drive takes the cooperative network turn until termination.
func (p *Pool) drive(ctx context.Context, routes []dualtree.RouteRequest) error {
	for !p.queue.CanTerminate() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := p.queue.SendReceive(p.metric, routes); err != nil {
			return err
		}
		if p.queue.IsEmpty() {
			time.Sleep(idleWait)
		}
	}
	return nil
}

func (p *Pool) work(ctx context.Context, id int) error {
	for !p.queue.CanTerminate() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, handle, ok := p.queue.DequeueTask(p.metric, true)
		if !ok {
			time.Sleep(idleWait)
			continue
		}

		if err := p.kernel(p.metric, task); err != nil {
			p.log.Error().Err(err).Int("worker", id).Msg("kernel failed")
			return err
		}

		refCount := uint64(task.Reference.Node().Count())
		p.queue.PushCompletedComputationFor(handle, refCount, task.Work())
		p.queue.ReturnQuerySubtable(handle)
		if cb := task.Reference.CacheBlock(); cb != tree.NoCacheBlock {
			p.queue.ReleaseCache(cb, 1)
		}
	}
	return nil
}
