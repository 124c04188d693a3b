package tree

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomRows(n, dim int) [][]float32 {
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = rand.Float32()
		}
	}
	return rows
}

func TestBuildTablePartitionsContiguously(t *testing.T) {
	tbl, err := BuildTable(0, randomRows(64, 3), 8)
	require.NoError(t, err)

	var walk func(n *Node)
	walk = func(n *Node) {
		assert.Positive(t, n.Count())
		for i := n.Begin(); i < n.End(); i++ {
			p := tbl.Point(i)
			for d := range p {
				assert.GreaterOrEqual(t, p[d], n.Bound().Lo[d])
				assert.LessOrEqual(t, p[d], n.Bound().Hi[d])
			}
		}
		if !n.IsLeaf() {
			assert.Equal(t, n.Begin(), n.Left().Begin())
			assert.Equal(t, n.End(), n.Right().End())
			assert.Equal(t, n.Left().End(), n.Right().Begin())
			assert.LessOrEqual(t, n.Left().Count(), n.Count())
			walk(n.Left())
			walk(n.Right())
		} else {
			assert.LessOrEqual(t, n.Count(), 8)
		}
	}
	walk(tbl.Root())
}

func TestBuildTableRejectsBadInput(t *testing.T) {
	_, err := BuildTable(0, nil, 8)
	require.ErrorIs(t, err, ErrEmptyTable)

	_, err = BuildTable(0, [][]float32{{1, 2}, {3}}, 8)
	require.ErrorIs(t, err, ErrRaggedPoints)
}

func TestFindByBeginCount(t *testing.T) {
	tbl, err := BuildTable(0, randomRows(32, 2), 4)
	require.NoError(t, err)

	root := tbl.Root()
	n, err := tbl.FindByBeginCount(root.Begin(), root.Count())
	require.NoError(t, err)
	assert.Same(t, root, n)

	n, err = tbl.FindByBeginCount(root.Left().Begin(), root.Left().Count())
	require.NoError(t, err)
	assert.Same(t, root.Left(), n)

	_, err = tbl.FindByBeginCount(1, 7)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestFrontierBoundedByNumber(t *testing.T) {
	tbl, err := BuildTable(0, randomRows(64, 2), 2)
	require.NoError(t, err)

	frontier := tbl.FrontierBoundedByNumber(8)
	assert.GreaterOrEqual(t, len(frontier), 8)

	// The frontier tiles the whole table.
	covered := 0
	for _, n := range frontier {
		covered += n.Count()
	}
	assert.Equal(t, tbl.N(), covered)

	// A single-leaf tree cannot split further.
	small, err := BuildTable(0, randomRows(3, 2), 4)
	require.NoError(t, err)
	assert.Len(t, small.FrontierBoundedByNumber(8), 1)
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	tbl, err := BuildTable(0, randomRows(16, 2), 4)
	require.NoError(t, err)

	flat := Flatten(tbl.Root())
	back, err := Unflatten(flat)
	require.NoError(t, err)

	var compare func(a, b *Node)
	compare = func(a, b *Node) {
		assert.Equal(t, a.Begin(), b.Begin())
		assert.Equal(t, a.Count(), b.Count())
		assert.Equal(t, a.IsLeaf(), b.IsLeaf())
		assert.Equal(t, a.Bound().Lo, b.Bound().Lo)
		assert.Equal(t, a.Bound().Hi, b.Bound().Hi)
		if !a.IsLeaf() {
			compare(a.Left(), b.Left())
			compare(a.Right(), b.Right())
		}
	}
	compare(tbl.Root(), back)

	_, err = Unflatten(flat[:1])
	require.Error(t, err)
	_, err = Unflatten(nil)
	require.Error(t, err)
}

func TestSubTableDetachedRows(t *testing.T) {
	tbl, err := BuildTable(0, randomRows(8, 2), 2)
	require.NoError(t, err)
	node := tbl.Root().Right()
	rows, err := tbl.Rows(node.Begin(), node.Count())
	require.NoError(t, err)

	sub := NewDetachedSubTable(0, node, rows)
	got, err := sub.Rows()
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	// A child view of the shipped block still resolves.
	if !node.IsLeaf() {
		child := sub.Alias()
		child.SetNode(node.Left())
		childRows, err := child.Rows()
		require.NoError(t, err)
		assert.Equal(t, node.Left().Count(), len(childRows))
	}
}

func TestIDIncludes(t *testing.T) {
	outer := ID{Rank: 2, Begin: 4, Count: 8}
	assert.True(t, outer.Includes(ID{Rank: 2, Begin: 4, Count: 8}))
	assert.True(t, outer.Includes(ID{Rank: 2, Begin: 6, Count: 2}))
	assert.False(t, outer.Includes(ID{Rank: 2, Begin: 2, Count: 4}))
	assert.False(t, outer.Includes(ID{Rank: 1, Begin: 4, Count: 8}))
	assert.False(t, outer.Includes(ID{Rank: 2, Begin: 10, Count: 4}))
	assert.NotEqual(t, outer.Hash(), ID{Rank: 2, Begin: 4, Count: 9}.Hash())
}
