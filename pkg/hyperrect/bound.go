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

package hyperrect

import (
	"github.com/viterin/vek/vek32"
)

// Bound is an axis-aligned hyperrectangle over float32 coordinates.
type Bound struct {
	Lo []float32 `msgpack:"lo"`
	Hi []float32 `msgpack:"hi"`
}

func NewBound(dim int) Bound {
	lo := make([]float32, dim)
	hi := make([]float32, dim)
	for i := range lo {
		lo[i] = float32(1<<31 - 1)
		hi[i] = -float32(1<<31 - 1)
	}
	return Bound{Lo: lo, Hi: hi}
}

func (b Bound) Dim() int { return len(b.Lo) }

// Expand grows the bound to cover the point.
func (b Bound) Expand(p []float32) {
	for i, v := range p {
		if v < b.Lo[i] {
			b.Lo[i] = v
		}
		if v > b.Hi[i] {
			b.Hi[i] = v
		}
	}
}

// Merge grows the bound to cover another bound.
func (b Bound) Merge(o Bound) {
	vek32.Minimum_Inplace(b.Lo, o.Lo)
	vek32.Maximum_Inplace(b.Hi, o.Hi)
}

func (b Bound) Clone() Bound {
	lo := make([]float32, len(b.Lo))
	hi := make([]float32, len(b.Hi))
	copy(lo, b.Lo)
	copy(hi, b.Hi)
	return Bound{Lo: lo, Hi: hi}
}

// Range is a closed interval of squared distances.
type Range struct {
	Lo float64
	Hi float64
}

func (r Range) Mid() float64 { return (r.Lo + r.Hi) / 2 }
