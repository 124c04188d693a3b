package hyperrect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boundOf(rows ...[]float32) Bound {
	b := NewBound(len(rows[0]))
	for _, r := range rows {
		b.Expand(r)
	}
	return b
}

func TestRangeDistanceSqDisjointBounds(t *testing.T) {
	// [0,1]x[0,1] vs [3,4]x[0,1]: closest gap 2 along x, farthest 4,1.
	q := boundOf([]float32{0, 0}, []float32{1, 1})
	r := boundOf([]float32{3, 0}, []float32{4, 1})

	d := NewEuclidean().RangeDistanceSq(q, r)
	assert.InDelta(t, 4.0, d.Lo, 1e-6)
	assert.InDelta(t, 17.0, d.Hi, 1e-6)
	assert.InDelta(t, 10.5, d.Mid(), 1e-6)
}

func TestRangeDistanceSqOverlappingBounds(t *testing.T) {
	q := boundOf([]float32{0, 0}, []float32{2, 2})
	r := boundOf([]float32{1, 1}, []float32{3, 3})

	d := NewEuclidean().RangeDistanceSq(q, r)
	assert.Zero(t, d.Lo)
	assert.InDelta(t, 18.0, d.Hi, 1e-6)
}

func TestRangeDistanceSqIsSymmetric(t *testing.T) {
	q := boundOf([]float32{-1, 5}, []float32{0, 6})
	r := boundOf([]float32{2, 2}, []float32{4, 4})

	m := NewEuclidean()
	ab := m.RangeDistanceSq(q, r)
	ba := m.RangeDistanceSq(r, q)
	assert.InDelta(t, ab.Lo, ba.Lo, 1e-6)
	assert.InDelta(t, ab.Hi, ba.Hi, 1e-6)
}

func TestExpandAndMerge(t *testing.T) {
	b := NewBound(2)
	b.Expand([]float32{1, 2})
	b.Expand([]float32{-1, 4})
	assert.Equal(t, []float32{-1, 2}, b.Lo)
	assert.Equal(t, []float32{1, 4}, b.Hi)

	o := boundOf([]float32{0, -3})
	b.Merge(o)
	assert.Equal(t, []float32{-1, -3}, b.Lo)
	assert.Equal(t, []float32{1, 4}, b.Hi)

	dup := b.Clone()
	dup.Lo[0] = 99
	assert.Equal(t, float32(-1), b.Lo[0])
}
