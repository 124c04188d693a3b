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

package dataset

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrBadDim       = errors.New("dimension must be positive")
	ErrTruncatedRow = errors.New("dataset ends mid-row")
	ErrEmptyShard   = errors.New("shard holds no points")
)

// Read decodes little-endian float32 rows of the given dimension.
func Read(r io.Reader, dim int) ([][]float32, error) {
	if dim <= 0 {
		return nil, ErrBadDim
	}
	br := bufio.NewReader(r)
	var rows [][]float32
	buf := make([]byte, 4*dim)
	for {
		_, err := io.ReadFull(br, buf)
		if err == io.EOF {
			return rows, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedRow
		}
		if err != nil {
			return nil, err
		}
		row := make([]float32, dim)
		for i := range row {
			row[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
		rows = append(rows, row)
	}
}

// LoadFile reads a local dataset file.
func LoadFile(path string, dim int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, dim)
}

// MinioSource locates a dataset object in object storage.
type MinioSource struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Object    string
}

// LoadMinio fetches and decodes a dataset object.
func LoadMinio(ctx context.Context, src MinioSource, dim int) ([][]float32, error) {
	client, err := minio.New(src.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(src.AccessKey, src.SecretKey, ""),
		Secure: src.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	obj, err := client.GetObject(ctx, src.Bucket, src.Object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return Read(obj, dim)
}

// Shard returns rank's contiguous slice of the rows, remainder spread
// over the low ranks, plus the per-rank counts everyone agrees on.
func Shard(rows [][]float32, rank, size int) ([][]float32, []uint64, error) {
	counts := make([]uint64, size)
	base := len(rows) / size
	extra := len(rows) % size
	for r := 0; r < size; r++ {
		counts[r] = uint64(base)
		if r < extra {
			counts[r]++
		}
	}
	begin := 0
	for r := 0; r < rank; r++ {
		begin += int(counts[r])
	}
	end := begin + int(counts[rank])
	if begin == end {
		return nil, nil, ErrEmptyShard
	}
	return rows[begin:end], counts, nil
}
