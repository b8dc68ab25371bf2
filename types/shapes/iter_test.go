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
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_Iter(t *testing.T) {
	collect := func(shape Shape) (flats []int, all [][]int) {
		for flat, indices := range shape.Iter() {
			flats = append(flats, flat)
			all = append(all, slices.Clone(indices))
		}
		return
	}

	// Only one value to iterate.
	flats, all := collect(Make(dtypes.Float32, 1, 1, 1))
	require.Equal(t, [][]int{{0, 0, 0}}, all)
	require.Equal(t, []int{0}, flats)

	// With axes of dimension 1 in between.
	flats, all = collect(Make(dtypes.Float64, 3, 1, 2))
	require.Equal(t, [][]int{
		{0, 0, 0},
		{0, 0, 1},
		{1, 0, 0},
		{1, 0, 1},
		{2, 0, 0},
		{2, 0, 1},
	}, all)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5}, flats)

	// Shapes not fully known yield nothing.
	_, all = collect(Dims(3, UnknownDim))
	assert.Empty(t, all)
	_, all = collect(Unknown())
	assert.Empty(t, all)

	// Early termination.
	count := 0
	for range Dims(4, 4).Iter() {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestShape_FlatIndex(t *testing.T) {
	shape := Dims(2, 3, 4)
	assert.Equal(t, []int{12, 4, 1}, shape.Strides())
	assert.Equal(t, 0, shape.FlatIndex(0, 0, 0))
	assert.Equal(t, 23, shape.FlatIndex(1, 2, 3))
	for flat, indices := range shape.Iter() {
		require.Equal(t, flat, shape.FlatIndex(indices...))
	}
	require.Panics(t, func() { shape.FlatIndex(1, 2) })
}
