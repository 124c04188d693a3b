package dualtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/tree"
)

func newTestMetric() hyperrect.Metric { return hyperrect.NewEuclidean() }

func heapTask(t *testing.T, priority float64, seq uint64) *Task {
	t.Helper()
	tbl, err := tree.BuildTable(0, points(1, 2), 4)
	require.NoError(t, err)
	sub := tree.NewSubTable(tbl, tbl.Root())
	return &Task{Query: sub, Reference: sub, Priority: priority, seq: seq}
}

func TestPriorityQueueOrdersHighestFirst(t *testing.T) {
	pq := NewTaskPriorityQueue()
	pq.Push(heapTask(t, -3.0, 1))
	pq.Push(heapTask(t, -1.0, 2))
	pq.Push(heapTask(t, -2.0, 3))

	assert.Equal(t, 3, pq.Len())
	assert.Equal(t, -1.0, pq.Top().Priority)
	assert.Equal(t, -1.0, pq.Pop().Priority)
	assert.Equal(t, -2.0, pq.Pop().Priority)
	assert.Equal(t, -3.0, pq.Pop().Priority)
	assert.Nil(t, pq.Pop())
	assert.Nil(t, pq.Top())
}

func TestPriorityQueueTiesPopInSequenceOrder(t *testing.T) {
	pq := NewTaskPriorityQueue()
	first := heapTask(t, -1.0, 10)
	second := heapTask(t, -1.0, 11)
	third := heapTask(t, -1.0, 12)
	pq.Push(second)
	pq.Push(third)
	pq.Push(first)

	assert.Same(t, first, pq.Pop())
	assert.Same(t, second, pq.Pop())
	assert.Same(t, third, pq.Pop())
}

func TestPriorityMatchesMidpointFormula(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	require.NoError(t, q.GenerateTasks(
		newTestMetric(), receivedWholeRefTable(42)))

	task := q.Top(0)
	require.NotNil(t, task)
	r := newTestMetric().RangeDistanceSq(task.Query.Bound(), task.Reference.Bound())
	assert.InDelta(t, -r.Mid(), task.Priority, 1e-9)
}
