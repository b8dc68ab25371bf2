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

package operator

import (
	"testing"

	"github.com/gomlx/customops/types/tensors"
	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestAssign(t *testing.T) {
	dst := []float64{1, 1, 1}
	Assign(dst, WriteNull, 0, 5)
	Assign(dst, WriteTo, 1, 5)
	Assign(dst, AddTo, 2, 5)
	assert.Equal(t, []float64{1, 5, 6}, dst)
	Assign(dst, WriteInplace, 0, 7)
	assert.Equal(t, 7.0, dst[0])
	require.Panics(t, func() { Assign(dst, WriteMode(9), 0, 1) })

	require.NotPanics(t, func() { AssertOverwrite("Op", "output", WriteTo) })
	require.NotPanics(t, func() { AssertOverwrite("Op", "output", WriteNull) })
	require.Panics(t, func() { AssertOverwrite("Op", "output", AddTo) })
}

func halfs(values ...float32) []float16.Float16 {
	converted := make([]float16.Float16, len(values))
	for ii, v := range values {
		converted[ii] = float16.Fromfloat32(v)
	}
	return converted
}

func TestFloat16Operator(t *testing.T) {
	op := Float16Operator{Float32: addOp{}}
	a := tensors.FromFlatDataAndDimensions(halfs(1, 2), 2)
	b := tensors.FromFlatDataAndDimensions(halfs(0.5, 0.25), 2)
	out := tensors.FromFlatDataAndDimensions(halfs(10, 10), 2)
	op.Forward(&Context{}, []*tensors.Tensor{a, b}, []WriteMode{WriteTo}, []*tensors.Tensor{out}, nil)
	assert.Equal(t, halfs(1.5, 2.25), tensors.Flat[float16.Float16](out))

	op.Forward(&Context{}, []*tensors.Tensor{a, b}, []WriteMode{AddTo}, []*tensors.Tensor{out}, nil)
	assert.Equal(t, halfs(3, 4.5), tensors.Flat[float16.Float16](out))

	// WriteNull gradients are left untouched, and nil tensors are accepted.
	g := tensors.FromFlatDataAndDimensions(halfs(1, -1), 2)
	ga := tensors.FromFlatDataAndDimensions(halfs(7, 7), 2)
	gb := tensors.FromFlatDataAndDimensions(halfs(7, 7), 2)
	op.Backward(&Context{}, []*tensors.Tensor{g}, []*tensors.Tensor{nil, nil}, []*tensors.Tensor{nil},
		[]WriteMode{WriteNull, AddTo}, []*tensors.Tensor{ga, gb}, nil)
	assert.Equal(t, halfs(7, 7), tensors.Flat[float16.Float16](ga))
	assert.Equal(t, halfs(8, 6), tensors.Flat[float16.Float16](gb))
	assert.Equal(t, Float16, gb.DType())
}
