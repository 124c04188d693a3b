package interval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertRejectsOverlap(t *testing.T) {
	s := NewDisjointSet()

	assert.True(t, s.Insert(0, 0, 10))
	assert.False(t, s.Insert(0, 5, 15), "overlapping interval must be rejected")
	assert.False(t, s.Insert(0, 0, 10), "replay must be rejected")
	assert.True(t, s.Insert(0, 10, 20), "half-open intervals may touch")
	assert.Equal(t, uint64(20), s.NumPoints())
}

func TestInsertKeyedByRank(t *testing.T) {
	s := NewDisjointSet()

	assert.True(t, s.Insert(0, 0, 10))
	assert.True(t, s.Insert(1, 0, 10), "same interval under another rank is disjoint")
	assert.True(t, s.Contains(0, 0, 10))
	assert.True(t, s.Contains(1, 0, 10))
	assert.False(t, s.Contains(2, 0, 10))
	assert.Equal(t, []int{0, 1}, s.Ranks())
}

func TestInsertRejectsDegenerate(t *testing.T) {
	s := NewDisjointSet()
	assert.False(t, s.Insert(0, 5, 5))
	assert.False(t, s.Insert(0, 7, 3))
	assert.False(t, s.Insert(0, -1, 3))
	assert.Equal(t, uint64(0), s.NumPoints())
}

func TestDeepCopyIsIndependent(t *testing.T) {
	s := NewDisjointSet()
	require.True(t, s.Insert(0, 0, 4))

	dup := NewDisjointSetFrom(s)
	assert.False(t, dup.Insert(0, 2, 6), "copy carries existing intervals")

	// Diverge both sides; neither leaks into the other.
	assert.True(t, dup.Insert(0, 10, 12))
	assert.True(t, s.Insert(0, 4, 8))
	assert.False(t, s.Contains(0, 10, 12))
	assert.False(t, dup.Contains(0, 4, 8))
}

func TestMarshalRoundTripKeepsDisjointness(t *testing.T) {
	s := NewDisjointSet()
	require.True(t, s.Insert(0, 0, 8))
	require.True(t, s.Insert(3, 100, 200))

	raw, err := s.Marshal()
	require.NoError(t, err)
	back, err := UnmarshalDisjointSet(raw)
	require.NoError(t, err)

	assert.False(t, back.Insert(0, 4, 6))
	assert.False(t, back.Insert(3, 150, 160))
	assert.True(t, back.Insert(0, 8, 9))
	assert.Equal(t, s.NumPoints()+1, back.NumPoints())
}
