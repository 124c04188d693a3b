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

// Metric computes the squared-distance range between two bounds.
type Metric interface {
	RangeDistanceSq(a, b Bound) Range
	String() string
}

type Euclidean struct{}

func NewEuclidean() Metric {
	return &Euclidean{}
}

// RangeDistanceSq returns the min and max squared euclidean distance
// between any pair of points drawn from the two bounds.
func (this *Euclidean) RangeDistanceSq(a, b Bound) Range {
	gapA := vek32.Sub(b.Lo, a.Hi)
	gapB := vek32.Sub(a.Lo, b.Hi)
	lo := vek32.Maximum(gapA, gapB)
	vek32.Maximum_Inplace(lo, make([]float32, len(lo)))

	farA := vek32.Sub(b.Hi, a.Lo)
	farB := vek32.Sub(a.Hi, b.Lo)
	hi := vek32.Maximum(farA, farB)

	return Range{
		Lo: float64(vek32.Dot(lo, lo)),
		Hi: float64(vek32.Dot(hi, hi)),
	}
}

func (this *Euclidean) String() string {
	return "euclidean"
}
