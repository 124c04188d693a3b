package exchange

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjy-dv/quiver/cluster"
	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/tree"
)

type rankFixture struct {
	queue *dualtree.TaskQueue
	ex    *Exchange
}

func rows(vals ...float32) [][]float32 {
	out := make([][]float32, len(vals))
	for i, v := range vals {
		out[i] = []float32{v, -v}
	}
	return out
}

// buildWorld wires size single-threaded processes over a loopback
// fabric, each holding two query and two reference points.
func buildWorld(t *testing.T, size int) []rankFixture {
	t.Helper()
	transports := NewLoopbackWorld(size)
	counts := make([]uint64, size)
	for i := range counts {
		counts[i] = 2
	}

	fixtures := make([]rankFixture, size)
	for rank := 0; rank < size; rank++ {
		base := float32(10 * rank)
		queryTable, err := tree.BuildTable(rank, rows(base, base+1), 4)
		require.NoError(t, err)
		refTable, err := tree.BuildTable(rank, rows(base+5, base+6), 4)
		require.NoError(t, err)
		world, err := cluster.NewWorld(rank, counts, counts)
		require.NoError(t, err)

		ex := New(Options{Transport: transports[rank]}, zerolog.Nop())
		q := dualtree.NewTaskQueue(zerolog.Nop())
		result := tree.NewResultBlock(0, queryTable.N())
		require.NoError(t, q.Init(world, 2, true, queryTable, refTable, result, 1, ex))
		fixtures[rank] = rankFixture{queue: q, ex: ex}
	}
	return fixtures
}

// drainQueue completes every available task through the checkout path.
func drainQueue(t *testing.T, metric hyperrect.Metric, q *dualtree.TaskQueue) {
	t.Helper()
	for {
		task, handle, ok := q.DequeueTask(metric, true)
		if !ok {
			return
		}
		refCount := uint64(task.Reference.Node().Count())
		q.PushCompletedComputationFor(handle, refCount, task.Work())
		q.ReturnQuerySubtable(handle)
		if cb := task.Reference.CacheBlock(); cb != tree.NoCacheBlock {
			q.ReleaseCache(cb, 1)
		}
	}
}

func tick(t *testing.T, metric hyperrect.Metric, fixtures []rankFixture, routes [][]dualtree.RouteRequest) {
	t.Helper()
	for rank, f := range fixtures {
		require.NoError(t, f.queue.SendReceive(metric, routes[rank]))
	}
}

func TestRouteFanOutGeneratesTasksEverywhere(t *testing.T) {
	metric := hyperrect.NewEuclidean()
	fixtures := buildWorld(t, 2)

	routes := make([][]dualtree.RouteRequest, len(fixtures))
	for rank, f := range fixtures {
		routes[rank] = f.ex.PlanEssentialRoutes()
		require.NotEmpty(t, routes[rank])
	}

	// Turn one announces and self-delivers; turn two drains the peer
	// frames.
	tick(t, metric, fixtures, routes)
	tick(t, metric, fixtures, routes)

	for rank, f := range fixtures {
		// Each rank pairs its one query slot against its own reference
		// subtree and the peer's.
		assert.Equal(t, 2, f.queue.NumRemainingTasks(), "rank %d", rank)
		assert.Equal(t, uint64(8), f.queue.RemainingLocalComputation(), "rank %d", rank)
	}

	// Re-announcing the same routes is a no-op.
	tick(t, metric, fixtures, routes)
	for rank, f := range fixtures {
		assert.Equal(t, 2, f.queue.NumRemainingTasks(), "rank %d", rank)
	}
}

func TestCompletedComputationBroadcastDrivesTermination(t *testing.T) {
	metric := hyperrect.NewEuclidean()
	fixtures := buildWorld(t, 2)

	routes := make([][]dualtree.RouteRequest, len(fixtures))
	for rank, f := range fixtures {
		routes[rank] = f.ex.PlanEssentialRoutes()
	}
	tick(t, metric, fixtures, routes)
	tick(t, metric, fixtures, routes)

	// Every process chews through its local tasks the way a worker
	// does: checkout, complete, return.
	for _, f := range fixtures {
		drainQueue(t, metric, f.queue)
	}

	// Broadcasts are still parked; nobody may terminate yet.
	for rank, f := range fixtures {
		assert.False(t, f.queue.CanTerminate(), "rank %d", rank)
	}

	// Two more turns flush and deliver the completed-work frames.
	tick(t, metric, fixtures, routes)
	tick(t, metric, fixtures, routes)

	for rank, f := range fixtures {
		assert.Equal(t, uint64(0), f.queue.RemainingGlobalComputation(), "rank %d", rank)
		assert.True(t, f.queue.CanTerminate(), "rank %d", rank)
	}
}

func TestLoadBalanceProbeMovesWork(t *testing.T) {
	metric := hyperrect.NewEuclidean()
	fixtures := buildWorld(t, 2)

	routes := make([][]dualtree.RouteRequest, len(fixtures))
	for rank, f := range fixtures {
		routes[rank] = f.ex.PlanEssentialRoutes()
	}
	tick(t, metric, fixtures, routes)
	tick(t, metric, fixtures, routes)

	// Rank 1 pretends to be starved and probes rank 0.
	req := fixtures[1].queue.PrepareLoadBalanceRequest()
	fixtures[1].ex.QueueLoadBalanceProbe(0, req)

	tick(t, metric, fixtures, routes) // probe travels to rank 0
	tick(t, metric, fixtures, routes) // rank 0 exports, packet travels back

	assert.Equal(t, 1, fixtures[0].queue.NumExported())
	assert.Positive(t, fixtures[1].queue.NumImported())

	// Rank 1 drains everything it now holds; the drained import gets
	// flushed home by the dequeue cleanup along the way.
	drainQueue(t, metric, fixtures[1].queue)

	tick(t, metric, fixtures, routes) // flush return travels
	tick(t, metric, fixtures, routes)

	assert.Equal(t, 0, fixtures[0].queue.NumExported())
	assert.Equal(t, 0, fixtures[1].queue.NumImported())
}

func TestCacheLockReleaseLifecycle(t *testing.T) {
	ex := New(Options{Transport: NewLoopbackWorld(1)[0]}, zerolog.Nop())
	refTable, err := tree.BuildTable(0, rows(1, 2, 3), 2)
	require.NoError(t, err)

	node := refTable.Root().Left()
	shipped, err := refTable.Rows(node.Begin(), node.Count())
	require.NoError(t, err)
	sub := tree.NewDetachedSubTable(0, node, shipped)

	id := ex.PushSubTable(sub, 2)
	assert.Equal(t, sub, ex.FindSubTable(id))
	assert.Equal(t, id, sub.CacheBlock())

	ex.LockCache(id, 1)
	ex.ReleaseCache(id, 1)
	ex.ReleaseCache(id, 2)
	// Fully released entries stay resident on the victim list until it
	// overflows.
	assert.NotNil(t, ex.FindSubTable(id))
}
