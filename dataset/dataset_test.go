package dataset

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(rows [][]float32) []byte {
	var buf bytes.Buffer
	for _, row := range rows {
		for _, v := range row {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf.Write(b[:])
		}
	}
	return buf.Bytes()
}

func TestReadDecodesRows(t *testing.T) {
	want := [][]float32{{1, 2, 3}, {4, 5, 6}}
	got, err := Read(bytes.NewReader(encode(want)), 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	empty, err := Read(bytes.NewReader(nil), 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadRejectsTruncatedRow(t *testing.T) {
	raw := encode([][]float32{{1, 2, 3}})
	_, err := Read(bytes.NewReader(raw[:8]), 3)
	require.ErrorIs(t, err, ErrTruncatedRow)

	_, err = Read(bytes.NewReader(raw), 0)
	require.ErrorIs(t, err, ErrBadDim)
}

func TestShardSplitsContiguouslyWithRemainder(t *testing.T) {
	rows := make([][]float32, 10)
	for i := range rows {
		rows[i] = []float32{float32(i)}
	}

	var total int
	for rank := 0; rank < 3; rank++ {
		shard, counts, err := Shard(rows, rank, 3)
		require.NoError(t, err)
		assert.Equal(t, []uint64{4, 3, 3}, counts)
		assert.Len(t, shard, int(counts[rank]))
		// Contiguous: the first value identifies the offset.
		assert.Equal(t, float32(total), shard[0][0])
		total += len(shard)
	}
	assert.Equal(t, 10, total)
}

func TestShardRejectsEmptyShard(t *testing.T) {
	rows := [][]float32{{1}}
	_, _, err := Shard(rows, 1, 2)
	require.ErrorIs(t, err, ErrEmptyShard)
}
