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

package tensors

import (
	"testing"

	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float64, 2, 3))
	require.Equal(t, dtypes.Float64, tensor.DType())
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, make([]float64, 6), Flat[float64](tensor))
	require.Panics(t, func() { _ = Flat[float32](tensor) })

	half := FromShape(shapes.Make(dtypes.Float16, 4))
	require.Len(t, Flat[float16.Float16](half), 4)

	require.Panics(t, func() { _ = FromShape(shapes.Dims(2, 3)) })
	require.Panics(t, func() { _ = FromShape(shapes.Make(dtypes.Float32, 2, shapes.UnknownDim)) })
}

func TestReshapeSharesStorage(t *testing.T) {
	flat := []float32{1, 2, 3, 4, 5, 6}
	tensor := FromFlatDataAndDimensions(flat, 2, 3)
	reshaped, err := tensor.Reshape(3, 2)
	require.NoError(t, err)
	require.True(t, reshaped.SharesStorage(tensor))
	require.Equal(t, []int{3, 2}, reshaped.Shape().Dimensions)

	// Writes through one view are seen by the other.
	Flat[float32](reshaped)[5] = 60
	assert.Equal(t, float32(60), flat[5])

	_, err = tensor.Reshape(4, 2)
	require.Error(t, err)
	require.Panics(t, func() { _ = tensor.MustReshape(7) })

	clone := tensor.Clone()
	require.False(t, clone.SharesStorage(tensor))
	require.Equal(t, flat, Flat[float32](clone))
	clone.Zero()
	require.Equal(t, make([]float32, 6), Flat[float32](clone))
	require.Equal(t, float32(1), flat[0])
}

func TestFromFlat(t *testing.T) {
	tensor, err := FromFlat(shapes.Make(dtypes.Int32, 3), []int32{7, 8, 9})
	require.NoError(t, err)
	require.Equal(t, []int32{7, 8, 9}, Flat[int32](tensor))

	_, err = FromFlat(shapes.Make(dtypes.Int32, 3), []int64{7, 8, 9})
	require.Error(t, err)
	_, err = FromFlat(shapes.Make(dtypes.Int32, 2), []int32{7, 8, 9})
	require.Error(t, err)
	_, err = FromFlat(shapes.Make(dtypes.Int32, 2), 7)
	require.Error(t, err)

	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]float64{1, 2}, 3) })
}
