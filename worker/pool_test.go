package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sjy-dv/quiver/cluster"
	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/exchange"
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/tree"
)

type fixture struct {
	queue  *dualtree.TaskQueue
	ex     *exchange.Exchange
	result *tree.ResultBlock
	pool   *Pool
}

func gridRows(n int, base float32) [][]float32 {
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = []float32{base + float32(i), base - float32(i)}
	}
	return rows
}

func buildFixtures(t *testing.T, size, pointsPerRank, numThreads int) []fixture {
	t.Helper()
	transports := exchange.NewLoopbackWorld(size)
	counts := make([]uint64, size)
	for i := range counts {
		counts[i] = uint64(pointsPerRank)
	}
	metric := hyperrect.NewEuclidean()

	fixtures := make([]fixture, size)
	for rank := 0; rank < size; rank++ {
		base := float32(100 * rank)
		queryTable, err := tree.BuildTable(rank, gridRows(pointsPerRank, base), 4)
		require.NoError(t, err)
		refTable, err := tree.BuildTable(rank, gridRows(pointsPerRank, base+50), 4)
		require.NoError(t, err)
		world, err := cluster.NewWorld(rank, counts, counts)
		require.NoError(t, err)

		ex := exchange.New(exchange.Options{Transport: transports[rank]}, zerolog.Nop())
		q := dualtree.NewTaskQueue(zerolog.Nop())
		result := tree.NewResultBlock(0, queryTable.N())
		require.NoError(t, q.Init(world, 8, true, queryTable, refTable, result, numThreads, ex))
		fixtures[rank] = fixture{
			queue:  q,
			ex:     ex,
			result: result,
			pool:   NewPool(q, ex, metric, numThreads, PairCountKernel, zerolog.Nop()),
		}
	}
	return fixtures
}

func runWorld(t *testing.T, fixtures []fixture) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range fixtures {
		pool := f.pool
		g.Go(func() error { return pool.Run(ctx) })
	}
	require.NoError(t, g.Wait(), "computation did not terminate")
}

func TestPoolCoversAllPairsSingleRank(t *testing.T) {
	fixtures := buildFixtures(t, 1, 12, 2)
	runWorld(t, fixtures)

	f := fixtures[0]
	assert.Equal(t, uint64(0), f.queue.RemainingGlobalComputation())
	assert.True(t, f.queue.CanTerminate())
	assert.Equal(t, 0, f.queue.NumRemainingTasks())

	// Full coverage: every query point was paired with every reference
	// point exactly once.
	for i, v := range f.result.Values {
		assert.Equal(t, float64(12), v, "query point %d", i)
	}
}

func TestPoolCoversAllPairsTwoRanks(t *testing.T) {
	fixtures := buildFixtures(t, 2, 8, 2)
	runWorld(t, fixtures)

	for rank, f := range fixtures {
		assert.Equal(t, uint64(0), f.queue.RemainingGlobalComputation(), "rank %d", rank)
		assert.True(t, f.queue.CanTerminate(), "rank %d", rank)
		for i, v := range f.result.Values {
			assert.Equal(t, float64(16), v, "rank %d query point %d", rank, i)
		}
	}
}
