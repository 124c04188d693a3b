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

package dualtree

import (
	"github.com/sjy-dv/quiver/tree"
)

// Task pairs a query subtree with a reference subtree. Completing it
// covers query.Count x reference.Count point pairs.
type Task struct {
	Query     *tree.SubTable
	Reference *tree.SubTable
	Priority  float64

	seq uint64
}

// Work is the number of point pairs this task covers.
func (t *Task) Work() uint64 {
	return uint64(t.Query.Node().Count()) * uint64(t.Reference.Node().Count())
}
