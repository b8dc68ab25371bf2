/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"iter"

	"github.com/gomlx/exceptions"
)

// Iter iterates over all the indices of a fully known shape, in row-major order (the last axis changes
// fastest), yielding the flat position and the indices.
//
// To avoid allocating the slice of indices, the yielded indices are owned by the Iter() method:
// don't change it inside the loop. Shapes not fully known yield nothing.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		if !s.IsKnown() {
			return
		}
		rank := s.Rank()
		indices := make([]int, rank)
		for flat := range s.Size() {
			if !yield(flat, indices) {
				return
			}
			// Increment with carry-over to the higher-order axes.
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
		}
	}
}

// Strides returns, for each axis, the distance in the flat (row-major) storage between consecutive
// indices of the axis.
func (s Shape) Strides() []int {
	strides := make([]int, s.Rank())
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// FlatIndex returns the position in the flat (row-major) storage of the given indices.
func (s Shape) FlatIndex(indices ...int) int {
	if len(indices) != s.Rank() {
		exceptions.Panicf("FlatIndex(%v): wrong number of indices for shape %s", indices, s)
	}
	flat := 0
	for axis, stride := range s.Strides() {
		flat += indices[axis] * stride
	}
	return flat
}
