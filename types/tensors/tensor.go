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

// Package tensors implements a `Tensor`, a typed and shaped view over a flat buffer.
//
// Tensors are owned by the engine that runs the operators: operators only receive them by
// reference during a Forward or Backward call and never keep them between calls.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, using the flat data given as its storage (it is not copied). Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
// A Tensor can be reshaped without copying (Reshape) whenever the number of elements match: the
// new Tensor is a different view over the same storage.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Supported lists the Go types that can back a Tensor.
type Supported interface {
	float16.Float16 | float32 | float64 | int32 | int64
}

// DTypeOf returns the dtypes.DType corresponding to the Go type T.
func DTypeOf[T Supported]() dtypes.DType {
	var t T
	switch any(t).(type) {
	case float16.Float16:
		return dtypes.Float16
	case float32:
		return dtypes.Float32
	case float64:
		return dtypes.Float64
	case int32:
		return dtypes.Int32
	case int64:
		return dtypes.Int64
	}
	return dtypes.InvalidDType
}

// Tensor represents a multidimensional array defined by its shape (a data type and its axes' dimensions),
// and its actual content stored as a flat (1D) slice of the underlying DType.
//
// Multiple Tensor objects may share the same storage: see Reshape and SharesStorage.
type Tensor struct {
	shape shapes.Shape

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

// makeFlat allocates a zero initialized flat slice for the dtype.
func makeFlat(dtype dtypes.DType, size int) any {
	switch dtype {
	case dtypes.Float16:
		return make([]float16.Float16, size)
	case dtypes.Float32:
		return make([]float32, size)
	case dtypes.Float64:
		return make([]float64, size)
	case dtypes.Int32:
		return make([]int32, size)
	case dtypes.Int64:
		return make([]int64, size)
	}
	exceptions.Panicf("tensors: dtype %s not supported", dtype)
	return nil
}

// FromShape returns a zero initialized Tensor with the given shape, which must be fully known.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.IsKnown() && shape.Rank() > 0 {
		exceptions.Panicf("tensors.FromShape(%s): shape must be fully known", shape)
	}
	return &Tensor{shape: shape.Clone(), flat: makeFlat(shape.DType, shape.Size())}
}

// FromFlatDataAndDimensions returns a Tensor backed by the given flat slice: it is not copied.
// It panics if the number of elements doesn't match the dimensions.
func FromFlatDataAndDimensions[T Supported](flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(DTypeOf[T](), dimensions...)
	if shape.Size() != len(flat) {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: shape %s requires %d elements, got %d", shape, shape.Size(), len(flat))
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromFlat returns a Tensor backed by the given flat slice, which must be a slice of a Supported type
// matching shape.DType.
func FromFlat(shape shapes.Shape, flat any) (*Tensor, error) {
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice {
		return nil, errors.Errorf("tensors.FromFlat: flat must be a slice, got %T", flat)
	}
	if reflect.TypeOf(makeFlat(shape.DType, 0)) != v.Type() {
		return nil, errors.Errorf("tensors.FromFlat: flat of type %T doesn't match shape %s", flat, shape)
	}
	if v.Len() != shape.Size() {
		return nil, errors.Errorf("tensors.FromFlat: shape %s requires %d elements, got %d", shape, shape.Size(), v.Len())
	}
	return &Tensor{shape: shape.Clone(), flat: flat}, nil
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used by the tensor's storage.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Flat returns the underlying flat slice, as `any`. Changes to it change the tensor.
func (t *Tensor) Flat() any { return t.flat }

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	return fmt.Sprintf("Tensor%s", t.shape)
}

// Flat returns the underlying flat slice of the tensor as []T.
// It panics if T doesn't match the tensor's DType.
func Flat[T Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		exceptions.Panicf("tensors.Flat[%T]: tensor has dtype %s", zero, t.shape.DType)
	}
	return flat
}

// Reshape returns a new view of the tensor, sharing the same storage, with the given dimensions.
// It returns an error if the number of elements doesn't match.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	newShape := shapes.Make(t.shape.DType, dimensions...)
	if newShape.Size() != t.shape.Size() {
		return nil, errors.Errorf("cannot reshape tensor %s to %v: %d elements vs %d", t.shape, dimensions, t.shape.Size(), newShape.Size())
	}
	return &Tensor{shape: newShape, flat: t.flat}, nil
}

// MustReshape is like Reshape, but panics on error.
func (t *Tensor) MustReshape(dimensions ...int) *Tensor {
	reshaped, err := t.Reshape(dimensions...)
	if err != nil {
		panic(err)
	}
	return reshaped
}

// SharesStorage returns whether both tensors are views over the same storage.
func (t *Tensor) SharesStorage(other *Tensor) bool {
	if t == nil || other == nil {
		return false
	}
	v1, v2 := reflect.ValueOf(t.flat), reflect.ValueOf(other.flat)
	if v1.Type() != v2.Type() || v1.Len() == 0 || v2.Len() == 0 {
		return false
	}
	return v1.Pointer() == v2.Pointer()
}

// Clone returns a deep copy of the tensor, with its own storage.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape)
	reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(t.flat))
	return clone
}

// Zero sets all the values of the tensor to zero.
func (t *Tensor) Zero() {
	v := reflect.ValueOf(t.flat)
	reflect.Copy(v, reflect.ValueOf(makeFlat(t.shape.DType, v.Len())))
}
